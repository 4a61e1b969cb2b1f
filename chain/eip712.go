package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vitwit/x402-facilitator/types"
	"github.com/vitwit/x402-facilitator/utils"
)

var (
	eip712DomainTypehash = crypto.Keccak256([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	transferWithAuthorizationTypehash = crypto.Keccak256([]byte(
		"TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)"))
)

// DomainSeparator computes the EIP-712 domain separator of an EIP-3009 token
// deployment from its signing-domain parameters.
func DomainSeparator(name, version string, chainID uint64, verifyingContract common.Address) []byte {
	buf := make([]byte, 0, 160)
	buf = append(buf, eip712DomainTypehash...)
	buf = append(buf, crypto.Keccak256([]byte(name))...)
	buf = append(buf, crypto.Keccak256([]byte(version))...)
	buf = append(buf, leftPadBig(new(big.Int).SetUint64(chainID))...)
	buf = append(buf, leftPadAddress(verifyingContract)...)
	return crypto.Keccak256(buf)
}

// AuthorizationDigest computes the EIP-712 digest the payer signed for a
// transferWithAuthorization message.
func AuthorizationDigest(auth *types.EVMAuthorization, name, version string, chainID uint64, verifyingContract common.Address) ([]byte, error) {
	if !common.IsHexAddress(auth.From) {
		return nil, fmt.Errorf("invalid from address %q", auth.From)
	}
	if !common.IsHexAddress(auth.To) {
		return nil, fmt.Errorf("invalid to address %q", auth.To)
	}
	value, err := utils.ParseAmount(auth.Value)
	if err != nil {
		return nil, fmt.Errorf("invalid value: %w", err)
	}
	validAfter, err := utils.ParseAmount(auth.ValidAfter)
	if err != nil {
		return nil, fmt.Errorf("invalid validAfter: %w", err)
	}
	validBefore, err := utils.ParseAmount(auth.ValidBefore)
	if err != nil {
		return nil, fmt.Errorf("invalid validBefore: %w", err)
	}
	nonce, err := utils.ParseBytes32(auth.Nonce)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce: %w", err)
	}

	msg := make([]byte, 0, 224)
	msg = append(msg, transferWithAuthorizationTypehash...)
	msg = append(msg, leftPadAddress(common.HexToAddress(auth.From))...)
	msg = append(msg, leftPadAddress(common.HexToAddress(auth.To))...)
	msg = append(msg, leftPadBig(value)...)
	msg = append(msg, leftPadBig(validAfter)...)
	msg = append(msg, leftPadBig(validBefore)...)
	msg = append(msg, nonce[:]...)
	structHash := crypto.Keccak256(msg)

	separator := DomainSeparator(name, version, chainID, verifyingContract)

	digest := make([]byte, 0, 66)
	digest = append(digest, 0x19, 0x01)
	digest = append(digest, separator...)
	digest = append(digest, structHash...)
	return crypto.Keccak256(digest), nil
}

// RecoverAuthorizationSigner recovers the address that signed the
// authorization under the given signing domain. The signature may use either
// the 0/1 or the 27/28 recovery-byte convention.
func RecoverAuthorizationSigner(auth *types.EVMAuthorization, signature, name, version string, chainID uint64, verifyingContract common.Address) (common.Address, error) {
	sig, err := utils.ParseSignature(signature)
	if err != nil {
		return common.Address{}, err
	}
	digest, err := AuthorizationDigest(auth, name, version, chainID, verifyingContract)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func leftPadBig(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}

func leftPadAddress(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}
