package svc

import "errors"

// ErrStorageInitFailed 错误：存储初始化失败
var ErrStorageInitFailed = errors.New("storage initialization failed")

// ErrRestoreFailed 错误：账本状态恢复失败
var ErrRestoreFailed = errors.New("ledger restore failed")
