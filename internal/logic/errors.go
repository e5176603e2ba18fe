package logic

import (
	"errors"
)

// 生命周期校验错误。handler 层据此映射HTTP状态码。
var (
	// ErrValidation 请求数据未通过校验
	ErrValidation = errors.New("请求数据不合法")

	// ErrPaymentNotFound 支付请求不存在
	ErrPaymentNotFound = errors.New("支付请求不存在")
	// ErrAlreadyCompleted 支付已完成，不再接受贡献
	ErrAlreadyCompleted = errors.New("支付已完成，不再接受贡献")
	// ErrPaymentExpired 支付请求已过截止时间
	ErrPaymentExpired = errors.New("支付请求已过期")
	// ErrDuplicateContribution 同一地址不能重复贡献
	ErrDuplicateContribution = errors.New("该地址已经贡献过")
	// ErrAmountMismatch 贡献金额必须等于应付份额
	ErrAmountMismatch = errors.New("贡献金额与应付份额不符")

	// ErrClaimLinkNotFound 领取链接不存在
	ErrClaimLinkNotFound = errors.New("领取链接不存在")
	// ErrAlreadyClaimed 领取链接已被领取
	ErrAlreadyClaimed = errors.New("领取链接已被领取")
	// ErrLinkNotActive 领取链接不在可领取状态
	ErrLinkNotActive = errors.New("领取链接不在可领取状态")
	// ErrLinkExpired 领取链接已过期
	ErrLinkExpired = errors.New("领取链接已过期")
	// ErrReceiverMismatch 只有指定接收方可以领取
	ErrReceiverMismatch = errors.New("只有指定接收方可以领取")
	// ErrSelfClaimForbidden 发送方不能领取自己的链接
	ErrSelfClaimForbidden = errors.New("发送方不能领取自己的链接")
	// ErrNotSender 只有发送方可以取消
	ErrNotSender = errors.New("只有发送方可以取消领取链接")

	// ErrConcurrentUpdate 乐观锁冲突，记录已被并发修改
	ErrConcurrentUpdate = errors.New("记录已被并发修改，请重试")
)
