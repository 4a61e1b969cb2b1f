package chain

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/big"
	"time"

	binary "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/vitwit/x402-facilitator/logger"
	"github.com/vitwit/x402-facilitator/registry"
	"github.com/vitwit/x402-facilitator/types"
	"github.com/vitwit/x402-facilitator/utils"
)

// SolanaProvider settles payments carried as partially signed Solana
// transactions. Replay protection comes from the transaction blockhash, so
// no nonce coordination happens here.
type SolanaProvider struct {
	net    *registry.Network
	client *rpc.Client
	signer solana.PrivateKey // zero when the facilitator is not fee payer
	log    logger.Logger

	confirmAttempts int
	confirmInterval time.Duration
}

// NewSolanaProvider builds a provider for one Solana cluster. privateKey is
// the optional base58 fee-payer key; when empty the client must submit a
// fully signed transaction.
func NewSolanaProvider(net *registry.Network, rpcURL, privateKey string, log logger.Logger) (*SolanaProvider, error) {
	if log == nil {
		log = logger.NoopLogger{}
	}
	p := &SolanaProvider{
		net:             net,
		client:          rpc.New(rpcURL),
		log:             log,
		confirmAttempts: defaultConfirmAttempts,
		confirmInterval: defaultConfirmInterval,
	}
	if privateKey != "" {
		key, err := solana.PrivateKeyFromBase58(privateKey)
		if err != nil {
			return nil, types.NewConfigError(fmt.Sprintf("invalid signer key for %s", net.Name), err)
		}
		p.signer = key
	}
	log.Info("solana provider ready", map[string]any{
		"network": net.Name,
		"signer":  p.SignerAddress(),
	})
	return p, nil
}

func (p *SolanaProvider) Network() *registry.Network { return p.net }

func (p *SolanaProvider) SignerAddress() string {
	if p.signer == nil {
		return ""
	}
	return p.signer.PublicKey().String()
}

func (p *SolanaProvider) Close() {}

// DecodeSolanaPayment checks, without touching the network, that the payload
// carries a token transfer matching the requirements: correct mint, paying
// the payTo's associated token account, for at least the required amount. It
// returns the payer (the transfer authority) on success and a structured
// invalid reason otherwise.
func DecodeSolanaPayment(payload *types.SolanaPayload, req *types.PaymentRequirements) (string, string) {
	if payload == nil || payload.Transaction == "" {
		return "", types.ReasonInvalidPayload
	}
	txBytes, err := base64.StdEncoding.DecodeString(payload.Transaction)
	if err != nil {
		return "", types.ReasonInvalidPayload
	}
	tx, err := solana.TransactionFromDecoder(binary.NewBinDecoder(txBytes))
	if err != nil {
		return "", types.ReasonInvalidPayload
	}

	mint, err := solana.PublicKeyFromBase58(req.Asset)
	if err != nil {
		return "", types.ReasonRequirementsMismatch
	}
	payTo, err := solana.PublicKeyFromBase58(req.PayTo)
	if err != nil {
		return "", types.ReasonRequirementsMismatch
	}
	destination, _, err := solana.FindAssociatedTokenAddress(payTo, mint)
	if err != nil {
		return "", types.ReasonRequirementsMismatch
	}
	required, err := utils.ParseAmount(req.MaxAmountRequired)
	if err != nil {
		return "", types.ReasonRequirementsMismatch
	}

	for _, inst := range tx.Message.Instructions {
		prog, err := tx.Message.Program(inst.ProgramIDIndex)
		if err != nil || !prog.Equals(solana.TokenProgramID) {
			continue
		}
		metas, err := instructionAccountMetas(&tx.Message, inst)
		if err != nil {
			return "", types.ReasonInvalidPayload
		}
		decoded, err := token.DecodeInstruction(metas, inst.Data)
		if err != nil {
			continue
		}
		transfer, ok := decoded.Impl.(*token.TransferChecked)
		if !ok {
			continue
		}
		if !transfer.GetMintAccount().PublicKey.Equals(mint) {
			continue
		}
		dest := transfer.GetDestinationAccount().PublicKey
		if !dest.Equals(destination) && !dest.Equals(payTo) {
			return "", types.ReasonRequirementsMismatch
		}
		if transfer.Amount == nil || new(big.Int).SetUint64(*transfer.Amount).Cmp(required) < 0 {
			return "", types.ReasonInsufficientValue
		}
		return transfer.GetOwnerAccount().PublicKey.String(), ""
	}
	return "", types.ReasonInvalidPayload
}

func instructionAccountMetas(msg *solana.Message, inst solana.CompiledInstruction) ([]*solana.AccountMeta, error) {
	metas := make([]*solana.AccountMeta, len(inst.Accounts))
	for i, idx := range inst.Accounts {
		if int(idx) >= len(msg.AccountKeys) {
			return nil, fmt.Errorf("account index %d out of range", idx)
		}
		pub := msg.AccountKeys[idx]
		writable, err := msg.IsWritable(pub)
		if err != nil {
			return nil, err
		}
		metas[i] = &solana.AccountMeta{
			PublicKey:  pub,
			IsSigner:   msg.IsSigner(pub),
			IsWritable: writable,
		}
	}
	return metas, nil
}

// VerifyOnChain re-decodes the transfer and checks the payer's token balance
// covers it.
func (p *SolanaProvider) VerifyOnChain(ctx context.Context, vp *types.VerifiedPayment) (string, error) {
	payer, reason := DecodeSolanaPayment(vp.Payload.Solana, &vp.Requirements)
	if reason != "" {
		return reason, nil
	}

	mint := solana.MustPublicKeyFromBase58(vp.Requirements.Asset)
	owner := solana.MustPublicKeyFromBase58(payer)
	source, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return types.ReasonInvalidPayload, nil
	}
	balance, err := p.client.GetTokenAccountBalance(ctx, source, rpc.CommitmentConfirmed)
	if err != nil {
		return "", fmt.Errorf("token balance: %w", err)
	}
	held, ok := new(big.Int).SetString(balance.Value.Amount, 10)
	if !ok {
		return "", fmt.Errorf("unparseable token balance %q", balance.Value.Amount)
	}
	required, err := utils.ParseAmount(vp.Requirements.MaxAmountRequired)
	if err != nil {
		return types.ReasonRequirementsMismatch, nil
	}
	if held.Cmp(required) < 0 {
		return types.ReasonInsufficientFunds, nil
	}
	return "", nil
}

// Settle co-signs as fee payer when configured and broadcasts the
// transaction, then polls for finality.
func (p *SolanaProvider) Settle(ctx context.Context, vp *types.VerifiedPayment) (*types.SettleResponse, error) {
	if vp.Payload.Solana == nil {
		return p.failure(vp, types.ErrCodeBroadcastFailed, "missing solana payload", false), nil
	}
	txBytes, err := base64.StdEncoding.DecodeString(vp.Payload.Solana.Transaction)
	if err != nil {
		return p.failure(vp, types.ErrCodeBroadcastFailed, "invalid tx base64", false), nil
	}
	tx, err := solana.TransactionFromDecoder(binary.NewBinDecoder(txBytes))
	if err != nil {
		return p.failure(vp, types.ErrCodeBroadcastFailed, fmt.Sprintf("tx decode failed: %v", err), false), nil
	}

	if p.signer != nil && len(tx.Message.AccountKeys) > 0 &&
		tx.Message.AccountKeys[0].Equals(p.signer.PublicKey()) {
		_, err = tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
			if key.Equals(p.signer.PublicKey()) {
				return &p.signer
			}
			return nil
		})
		if err != nil {
			return p.failure(vp, types.ErrCodeBroadcastFailed, fmt.Sprintf("fee payer signing failed: %v", err), false), nil
		}
	}

	sig, err := p.client.SendTransaction(ctx, tx)
	if err != nil {
		inconclusive := ambiguousSendError(err)
		return p.failure(vp, types.ErrCodeBroadcastFailed, fmt.Sprintf("broadcast failed: %v", err), inconclusive), nil
	}

	p.log.Info("transaction broadcast", map[string]any{
		"network": p.net.Name,
		"tx":      sig.String(),
	})
	return p.awaitFinality(context.WithoutCancel(ctx), vp, sig)
}

func (p *SolanaProvider) awaitFinality(ctx context.Context, vp *types.VerifiedPayment, sig solana.Signature) (*types.SettleResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(p.confirmAttempts+1)*p.confirmInterval)
	defer cancel()

poll:
	for i := 0; i < p.confirmAttempts; i++ {
		select {
		case <-ctx.Done():
			break poll
		case <-time.After(p.confirmInterval):
		}

		statuses, err := p.client.GetSignatureStatuses(ctx, false, sig)
		if err != nil || len(statuses.Value) == 0 || statuses.Value[0] == nil {
			continue
		}
		status := statuses.Value[0]
		if status.Err != nil {
			resp := p.failure(vp, types.ErrCodeReverted, fmt.Sprintf("transaction failed: %v", status.Err), false)
			resp.Transaction = sig.String()
			return resp, nil
		}
		switch status.ConfirmationStatus {
		case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
			return &types.SettleResponse{
				Success:     true,
				Payer:       vp.Payer,
				Transaction: sig.String(),
				Network:     vp.Network,
			}, nil
		}
	}

	resp := p.failure(vp, types.ErrCodeConfirmationTimeout, "transaction not confirmed in time", true)
	resp.Transaction = sig.String()
	return resp, nil
}

func (p *SolanaProvider) failure(vp *types.VerifiedPayment, code, detail string, inconclusive bool) *types.SettleResponse {
	p.log.Warn("settlement failed", map[string]any{
		"network":      p.net.Name,
		"code":         code,
		"detail":       detail,
		"inconclusive": inconclusive,
	})
	return &types.SettleResponse{
		Success:      false,
		ErrorReason:  code,
		Payer:        vp.Payer,
		Network:      vp.Network,
		Inconclusive: inconclusive,
	}
}
