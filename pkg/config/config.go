package config

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Environment variable names for the scrobble engine
const (
	EnvScrobbleRPCURL        = "SCROBBLE_RPC_URL"
	EnvScrobbleRelayURL      = "SCROBBLE_RELAY_URL"
	EnvScrobbleRelaySecret   = "SCROBBLE_RELAY_SECRET"
	EnvScrobbleChainID       = "SCROBBLE_CHAIN_ID"
	EnvScrobbleRegistryAddr  = "SCROBBLE_REGISTRY_ADDRESS"
	EnvScrobbleSessionKey    = "SCROBBLE_SESSION_KEY"
	EnvScrobbleJournalPath   = "SCROBBLE_JOURNAL_PATH"
	EnvScrobbleJournalType   = "SCROBBLE_JOURNAL_TYPE"
	EnvScrobbleRedisAddress  = "SCROBBLE_REDIS_ADDRESS"
	EnvScrobbleRedisPassword = "SCROBBLE_REDIS_PASSWORD"
	EnvScrobbleVerbose       = "SCROBBLE_VERBOSE"
)

type ChainId uint64

const (
	ChainId_BaseMainnet ChainId = 8453
	ChainId_BaseSepolia ChainId = 84532
	ChainId_Anvil       ChainId = 31337
)

type ChainName string

const (
	ChainName_BaseMainnet ChainName = "base"
	ChainName_BaseSepolia ChainName = "base-sepolia"
	ChainName_Anvil       ChainName = "devnet"
)

var ChainIdToName = map[ChainId]ChainName{
	ChainId_BaseMainnet: ChainName_BaseMainnet,
	ChainId_BaseSepolia: ChainName_BaseSepolia,
	ChainId_Anvil:       ChainName_Anvil,
}

// GetSupportedChainIDs returns all supported chain IDs
func GetSupportedChainIDs() []ChainId {
	return []ChainId{ChainId_BaseMainnet, ChainId_BaseSepolia, ChainId_Anvil}
}

// GetSupportedChainIDsString returns supported chain IDs as strings for CLI help
func GetSupportedChainIDsString() string {
	return fmt.Sprintf("%d (base), %d (base-sepolia), %d (anvil)",
		ChainId_BaseMainnet, ChainId_BaseSepolia, ChainId_Anvil)
}

// Registry contract deployments per chain
var registryContracts = map[ChainId]string{
	ChainId_BaseMainnet: "0x7c20bD0acbD77cF9a33d6bd0Be0ccfAc86F6FaAc",
	ChainId_BaseSepolia: "0x1b6e16403fb27C6D87c5e5BdA0dD6a1f11C40Cd9",
	ChainId_Anvil:       "0x1b6e16403fb27C6D87c5e5BdA0dD6a1f11C40Cd9", // fork of base-sepolia
}

// GetRegistryAddressForChainId returns the scrobble registry deployment for a
// chain, or an error for unsupported chains.
func GetRegistryAddressForChainId(chainId ChainId) (common.Address, error) {
	addr, ok := registryContracts[chainId]
	if !ok {
		return common.Address{}, fmt.Errorf("unsupported chain ID: %d", chainId)
	}
	return common.HexToAddress(addr), nil
}

// Submission timing and retry constants. The expiry window is deliberately
// short: a session call that misses it dies instead of occupying a nonce.
const (
	// ExpiryWindow bounds how long a signed session call remains valid.
	ExpiryWindow = 45 * time.Second

	// ReceiptGracePeriod extends receipt polling slightly past the expiry
	// window to catch calls mined at the boundary.
	ReceiptGracePeriod = 15 * time.Second

	// ReceiptPollInterval paces receipt polling.
	ReceiptPollInterval = 2 * time.Second

	// UnderpricedRetryDelay is the pause between underpriced-replacement
	// retries.
	UnderpricedRetryDelay = 1 * time.Second

	// MaxUnderpricedRetries bounds re-bid attempts after the first submission
	// (4 retries, 5 total attempts).
	MaxUnderpricedRetries = 4
)

// Relay fee floor. Relay-sponsored calls below these values are rejected by
// the sponsor, so the bidder raises every bid to at least this tier.
var (
	RelayMinPriorityFeePerGas = big.NewInt(1_000_000) // 0.001 gwei
	RelayMinMaxFeePerGas      = big.NewInt(2_000_000) // 0.002 gwei
)

// OneGwei is the re-floor increment between priority and max fee.
var OneGwei = big.NewInt(1_000_000_000)

// Metadata byte caps. Oversized fields are truncated deterministically, never
// rejected.
const (
	MaxTitleBytes  = 256
	MaxArtistBytes = 256
	MaxAlbumBytes  = 256
)

// EngineConfig configures a scrobble submission engine instance.
type EngineConfig struct {
	ChainID         ChainId        `json:"chain_id"`
	RpcUrl          string         `json:"rpc_url"`
	RegistryAddress common.Address `json:"registry_address"`

	Relay RelayConfig `json:"relay"`

	Debug   bool `json:"debug"`
	Verbose bool `json:"verbose"`
}

// Validate validates the engine configuration.
func (c *EngineConfig) Validate() error {
	var allErrors field.ErrorList
	if c.RpcUrl == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("rpcUrl"), "rpcUrl is required"))
	}
	if c.RegistryAddress == (common.Address{}) {
		allErrors = append(allErrors, field.Required(field.NewPath("registryAddress"), "registryAddress is required"))
	}
	if _, ok := ChainIdToName[c.ChainID]; !ok {
		allErrors = append(allErrors, field.NotSupported(field.NewPath("chainId"), c.ChainID, []string{
			GetSupportedChainIDsString(),
		}))
	}
	if err := c.Relay.Validate(); err != nil {
		allErrors = append(allErrors, field.Invalid(field.NewPath("relay"), c.Relay.Url, err.Error()))
	}
	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// RelayConfig configures the sponsor relay client. AuthSecret, when set,
// enables per-request JWT authentication.
type RelayConfig struct {
	Url        string `json:"url" yaml:"url"`
	AuthSecret string `json:"authSecret" yaml:"authSecret"`

	// RequestTimeout bounds each relay HTTP round-trip. Zero means the relay
	// client default.
	RequestTimeout time.Duration `json:"requestTimeout" yaml:"requestTimeout"`
}

func (rc *RelayConfig) Validate() error {
	var allErrors field.ErrorList
	if rc.Url == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("url"), "url is required"))
	}
	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// CustodySignerConfig configures the remote threshold-custody signing service.
type CustodySignerConfig struct {
	Url         string `json:"url" yaml:"url"`
	FromAddress string `json:"fromAddress" yaml:"fromAddress"`
	APIToken    string `json:"apiToken" yaml:"apiToken"`
}

func (csc *CustodySignerConfig) Validate() error {
	var allErrors field.ErrorList
	if csc.Url == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("url"), "url is required"))
	}
	if csc.FromAddress == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("fromAddress"), "fromAddress is required"))
	} else if !common.IsHexAddress(csc.FromAddress) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("fromAddress"), csc.FromAddress, "not a hex address"))
	}
	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// PasskeySignerConfig configures the platform-authenticator bridge used for
// passkey signing.
type PasskeySignerConfig struct {
	Url          string `json:"url" yaml:"url"`
	CredentialID string `json:"credentialId" yaml:"credentialId"`
	FromAddress  string `json:"fromAddress" yaml:"fromAddress"`
}

func (psc *PasskeySignerConfig) Validate() error {
	var allErrors field.ErrorList
	if psc.Url == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("url"), "url is required"))
	}
	if psc.CredentialID == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("credentialId"), "credentialId is required"))
	}
	if psc.FromAddress == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("fromAddress"), "fromAddress is required"))
	}
	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}
