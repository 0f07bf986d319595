package svc

import "errors"

// ErrProviderInitFailed 错误：上游构造失败
var ErrProviderInitFailed = errors.New("provider initialization failed")

// ErrStorageInitFailed 错误：存储初始化失败
var ErrStorageInitFailed = errors.New("storage initialization failed")
