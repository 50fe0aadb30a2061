package service

import "errors"

var (
	// ErrAccessDenied 资源存在但调用者无权访问；永远显式返回，不降级成 not found
	ErrAccessDenied = errors.New("access denied")
	// ErrValidation 请求参数不合法，拒绝于边界，不落库
	ErrValidation = errors.New("validation failed")
	// ErrAlreadyProcessed 定时动作已进终态（晚到的取消请求）
	ErrAlreadyProcessed = errors.New("not found or already processed")
)
