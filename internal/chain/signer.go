package chain

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrSignerUnavailable 没有可用的签名器
	ErrSignerUnavailable = errors.New("没有可用的签名器")
	// ErrTransactionNotSigned 交易未被签名
	ErrTransactionNotSigned = errors.New("交易未被签名")
)

// Signer 委托签名回调。服务端从不持有用户私钥，
// 签名由钱包方完成，这里只拿到签好的原始字节。
// indices 指出 txns 中哪些下标需要本次签名。
type Signer interface {
	Sign(ctx context.Context, txns []*types.Transaction, indices []int) ([][]byte, error)
}

// SignerFunc 函数适配器
type SignerFunc func(ctx context.Context, txns []*types.Transaction, indices []int) ([][]byte, error)

// Sign 实现 Signer 接口
func (f SignerFunc) Sign(ctx context.Context, txns []*types.Transaction, indices []int) ([][]byte, error) {
	return f(ctx, txns, indices)
}

// NewPresignedSigner 用客户端预先签好的字节构造签名器。
// HTTP 层走 prepare/submit 两步流程时使用。
func NewPresignedSigner(raw [][]byte) Signer {
	return SignerFunc(func(ctx context.Context, txns []*types.Transaction, indices []int) ([][]byte, error) {
		if len(raw) != len(indices) {
			return nil, ErrTransactionNotSigned
		}
		for _, b := range raw {
			if len(b) == 0 {
				return nil, ErrTransactionNotSigned
			}
		}
		return raw, nil
	})
}
