package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrLinkNotFound = errors.New("link not found")

// legacyLinkConfig is the flat shape written by early deployments. It is
// recognized on read and upgraded to the nested shape exactly once.
type legacyLinkConfig struct {
	BoardID        string        `json:"boardId"`
	OwnerAccountID string        `json:"ownerAccountId"`
	ColumnMapping  ColumnMapping `json:"columnMapping"`
	CreatedAt      string        `json:"createdAt"`
}

// SetLinkConfig stores the configuration under link_{linkCode}.
func (s *Store) SetLinkConfig(ctx context.Context, code string, cfg LinkConfig) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("link code is required")
	}

	value, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal link config: %w", err)
	}
	return s.setRaw(ctx, linkKey(code), value)
}

// GetLinkConfig loads the configuration for a link code. A legacy flat
// record is migrated to the nested shape and persisted back, so subsequent
// reads see the upgraded shape.
func (s *Store) GetLinkConfig(ctx context.Context, code string) (LinkConfig, error) {
	raw, err := s.getRaw(ctx, linkKey(code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LinkConfig{}, ErrLinkNotFound
		}
		return LinkConfig{}, err
	}

	raw = unwrapEnvelope(raw)
	cfg, migrated, err := decodeLinkConfig(raw, s.now)
	if err != nil {
		return LinkConfig{}, fmt.Errorf("link config for code %s: %w", code, err)
	}
	if migrated {
		s.logger.Printf("migrating legacy link config code=%s", code)
		if err := s.SetLinkConfig(ctx, code, cfg); err != nil {
			return LinkConfig{}, fmt.Errorf("persist migrated link config: %w", err)
		}
	}
	return cfg, nil
}

func (s *Store) DeleteLinkConfig(ctx context.Context, code string) error {
	err := s.deleteRaw(ctx, linkKey(code))
	if errors.Is(err, ErrNotFound) {
		return ErrLinkNotFound
	}
	return err
}

// decodeLinkConfig recognizes the current nested shape first, then the
// legacy flat shape. The second return value reports whether a migration
// happened and the result should be persisted back.
func decodeLinkConfig(raw []byte, now func() time.Time) (LinkConfig, bool, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return LinkConfig{}, false, fmt.Errorf("unrecognized shape: %w", err)
	}

	if _, ok := probe["targetConfig"]; ok {
		var cfg LinkConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return LinkConfig{}, false, err
		}
		return cfg, false, nil
	}

	if _, ok := probe["boardId"]; ok {
		var legacy legacyLinkConfig
		if err := json.Unmarshal(raw, &legacy); err != nil {
			return LinkConfig{}, false, err
		}
		return migrateLegacy(legacy, now), true, nil
	}

	return LinkConfig{}, false, fmt.Errorf("unrecognized shape")
}

func migrateLegacy(legacy legacyLinkConfig, now func() time.Time) LinkConfig {
	createdAt := now().UnixMilli()
	if legacy.CreatedAt != "" {
		if parsed, err := time.Parse(time.RFC3339, legacy.CreatedAt); err == nil {
			createdAt = parsed.UnixMilli()
		}
	}

	return LinkConfig{
		TargetConfig: TargetConfig{
			BoardID: legacy.BoardID,
			// The flat shape never stored a board name.
			BoardName:      legacy.BoardID,
			OwnerAccountID: legacy.OwnerAccountID,
		},
		ColumnMapping: legacy.ColumnMapping,
		Metadata: LinkMetadata{
			CreatedAt:       createdAt,
			CreatedByUserID: legacy.OwnerAccountID,
			Version:         1,
		},
	}
}
