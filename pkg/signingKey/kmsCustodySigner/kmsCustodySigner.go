// Package kmsCustodySigner implements SigningKey with an AWS KMS-held
// secp256k1 key, for deployments that custody the sender key in cloud KMS
// instead of a threshold service. KMS returns DER signatures with no recovery
// id, so every signature goes through the normalize-and-recover path.
package kmsCustodySigner

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/echofm-labs/scrobble-engine-go/pkg/signingKey"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// KMSSignClient is the slice of the KMS API the signer uses.
type KMSSignClient interface {
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
}

type KmsCustodySigner struct {
	client  KMSSignClient
	keyID   string
	address common.Address
	logger  *zap.Logger
}

var _ signingKey.SigningKey = (*KmsCustodySigner)(nil)

// NewKmsCustodySigner loads the default AWS config and resolves the key's
// Ethereum address from its public key.
func NewKmsCustodySigner(ctx context.Context, keyID string, logger *zap.Logger) (*KmsCustodySigner, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS config")
	}
	return NewKmsCustodySignerFromClient(ctx, kms.NewFromConfig(cfg), keyID, logger)
}

// NewKmsCustodySignerFromClient wraps an existing KMS client.
func NewKmsCustodySignerFromClient(ctx context.Context, client KMSSignClient, keyID string, logger *zap.Logger) (*KmsCustodySigner, error) {
	if keyID == "" {
		return nil, fmt.Errorf("KMS key id cannot be empty")
	}

	pubOut, err := client.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: &keyID})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get KMS public key")
	}
	address, err := addressFromSPKI(pubOut.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive address from KMS public key: %w", err)
	}

	logger.Sugar().Infow("KmsCustodySigner initialized",
		"keyId", keyID,
		"address", address.Hex(),
	)

	return &KmsCustodySigner{
		client:  client,
		keyID:   keyID,
		address: address,
		logger:  logger,
	}, nil
}

func (k *KmsCustodySigner) SignDigest(ctx context.Context, digest [32]byte) (*signingKey.Signature, error) {
	out, err := k.client.Sign(ctx, &kms.SignInput{
		KeyId:            &k.keyID,
		Message:          digest[:],
		MessageType:      kmstypes.MessageTypeDigest,
		SigningAlgorithm: kmstypes.SigningAlgorithmSpecEcdsaSha256,
	})
	if err != nil {
		return nil, errors.Wrap(err, "KMS sign request failed")
	}

	r, s, err := signingKey.ParseDERSignature(out.Signature)
	if err != nil {
		return nil, fmt.Errorf("malformed KMS signature: %w", err)
	}

	return signingKey.NormalizeAndRecover(digest, r, s, 0, k.address)
}

func (k *KmsCustodySigner) PublicIdentity() common.Address {
	return k.address
}

// addressFromSPKI extracts the uncompressed secp256k1 point from the
// SubjectPublicKeyInfo KMS returns and derives the Ethereum address. The
// uncompressed point is the trailing 65 bytes of the encoding.
func addressFromSPKI(spki []byte) (common.Address, error) {
	if len(spki) < 65 {
		return common.Address{}, fmt.Errorf("public key encoding too short: %d bytes", len(spki))
	}
	point := spki[len(spki)-65:]
	if point[0] != 0x04 {
		return common.Address{}, fmt.Errorf("expected uncompressed point marker, got 0x%02x", point[0])
	}
	pubKey, err := crypto.UnmarshalPubkey(point)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}
