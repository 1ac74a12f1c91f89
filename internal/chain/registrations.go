package chain

import (
	"context"
	"fmt"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	subkey "github.com/vedhavyas/go-subkey/v2"
	"go.uber.org/zap"
)

// RegistrationsConfig configures the substrate registration source.
type RegistrationsConfig struct {
	// URL of the substrate node RPC endpoint (ws or http).
	URL string
	// MaxNetuid is the highest subnet id scanned, inclusive.
	MaxNetuid uint16
}

const defaultMaxNetuid = 128

// SubstrateRegistrations answers hotkey registration queries by scanning
// the staking module's Uids storage map per subnet. It satisfies
// stake.RegistrationSource.
type SubstrateRegistrations struct {
	api       *gsrpc.SubstrateAPI
	meta      *types.Metadata
	maxNetuid uint16
	logger    *zap.Logger
}

// NewSubstrateRegistrations connects to the node and loads metadata once;
// registrations are resolved against latest state.
func NewSubstrateRegistrations(cfg RegistrationsConfig, logger *zap.Logger) (*SubstrateRegistrations, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("substrate url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	maxNetuid := cfg.MaxNetuid
	if maxNetuid == 0 {
		maxNetuid = defaultMaxNetuid
	}

	api, err := gsrpc.NewSubstrateAPI(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect substrate rpc: %w", err)
	}
	meta, err := api.RPC.State.GetMetadataLatest()
	if err != nil {
		return nil, fmt.Errorf("fetch metadata: %w", err)
	}

	return &SubstrateRegistrations{
		api:       api,
		meta:      meta,
		maxNetuid: maxNetuid,
		logger:    logger,
	}, nil
}

// RegistrationsFor scans Uids(netuid, hotkey) for every subnet id up to
// the configured maximum. A per-subnet query failure skips that subnet;
// only context cancellation aborts the scan.
func (s *SubstrateRegistrations) RegistrationsFor(ctx context.Context, hotkey string) ([]uint64, error) {
	_, account, err := subkey.SS58Decode(hotkey)
	if err != nil {
		return nil, fmt.Errorf("decode hotkey %q: %w", hotkey, err)
	}

	var netuids []uint64
	for netuid := uint16(0); netuid <= s.maxNetuid; netuid++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		registered, err := s.isRegistered(netuid, account)
		if err != nil {
			s.logger.Debug("uids query failed",
				zap.Uint16("netuid", netuid),
				zap.Error(err),
			)
			continue
		}
		if registered {
			netuids = append(netuids, uint64(netuid))
		}
	}
	return netuids, nil
}

func (s *SubstrateRegistrations) isRegistered(netuid uint16, account []byte) (bool, error) {
	netuidEnc, err := codec.Encode(types.NewU16(netuid))
	if err != nil {
		return false, fmt.Errorf("encode netuid: %w", err)
	}
	key, err := types.CreateStorageKey(s.meta, "SubtensorModule", "Uids", netuidEnc, account)
	if err != nil {
		return false, fmt.Errorf("build storage key: %w", err)
	}
	raw, err := s.api.RPC.State.GetStorageRawLatest(key)
	if err != nil {
		return false, err
	}
	return raw != nil && len(*raw) > 0, nil
}
