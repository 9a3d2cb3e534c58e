// 文件: pkg/spot/errors.go
// 现货模块错误定义
//
// 校验/权限错误在进入任何会写状态的事务之前返回；
// 状态竞争 (重复撤单等) 一律显式报错，核心层不做自动重试

package spot

import "errors"

var (
	ErrValidation       = errors.New("validation failed")
	ErrOrderNotFound    = errors.New("order not found")
	ErrNotOwner         = errors.New("caller does not own this order")
	ErrAlreadyFilled    = errors.New("order already filled")
	ErrAlreadyCancelled = errors.New("order already cancelled")
)
