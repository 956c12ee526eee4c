// Package tokenmap resolves source-chain tokens to their Casper counterparts.
package tokenmap

import (
	"fmt"
	"strings"

	"anchorebridge/types"
)

// Entry is one row of the mapping table as it appears in config.yml
type Entry struct {
	SourceChainID  uint64 `yaml:"source_chain_id"`
	SourceTokenRef string `yaml:"source_token"`
	DestChain      string `yaml:"dest_chain"`
	DestTokenRef   string `yaml:"dest_token"`
	Decimals       uint8  `yaml:"decimals"`
}

// Source is where mappings come from, so the table can be swapped
// without touching dispatch logic.
type Source interface {
	Lookup(sourceChainID uint64, sourceTokenRef string) (types.TokenDescriptor, bool)
}

type tableKey struct {
	chainID uint64
	ref     string
}

// Table is an immutable in-memory Source
type Table struct {
	rows map[tableKey]types.TokenDescriptor
}

func NewTable(entries []Entry) (*Table, error) {
	rows := make(map[tableKey]types.TokenDescriptor, len(entries))
	for i, e := range entries {
		src := normalizeRef(e.SourceTokenRef)
		dst := normalizeRef(e.DestTokenRef)
		if src == "" || dst == "" {
			return nil, fmt.Errorf("%w: token map entry %d has empty token reference", types.ErrConfiguration, i)
		}
		if strings.TrimSpace(e.DestChain) == "" {
			return nil, fmt.Errorf("%w: token map entry %d has empty destination chain", types.ErrConfiguration, i)
		}
		k := tableKey{chainID: e.SourceChainID, ref: src}
		if _, dup := rows[k]; dup {
			return nil, fmt.Errorf("%w: duplicate token map entry for %d:%s", types.ErrConfiguration, e.SourceChainID, src)
		}
		rows[k] = types.TokenDescriptor{
			ChainID:  e.DestChain,
			TokenRef: dst,
			Decimals: e.Decimals,
		}
	}
	return &Table{rows: rows}, nil
}

func (t *Table) Lookup(sourceChainID uint64, sourceTokenRef string) (types.TokenDescriptor, bool) {
	d, ok := t.rows[tableKey{chainID: sourceChainID, ref: normalizeRef(sourceTokenRef)}]
	return d, ok
}

func (t *Table) Len() int {
	return len(t.rows)
}

type Mapper struct {
	src Source
}

func New(src Source) *Mapper {
	return &Mapper{src: src}
}

// Resolve never retries: a missing mapping is surfaced for manual intervention.
func (m *Mapper) Resolve(sourceTokenRef string, sourceChainID uint64) (types.TokenDescriptor, error) {
	if m == nil || m.src == nil {
		return types.TokenDescriptor{}, fmt.Errorf("%w: no token mapping source", types.ErrConfiguration)
	}
	d, ok := m.src.Lookup(sourceChainID, sourceTokenRef)
	if !ok {
		return types.TokenDescriptor{}, fmt.Errorf("%w: no mapping for token %s on chain %d", types.ErrConfiguration, sourceTokenRef, sourceChainID)
	}
	return d, nil
}

// EVM addresses compare case-insensitively, Casper hashes lose their prefix
func normalizeRef(ref string) string {
	ref = strings.ToLower(strings.TrimSpace(ref))
	for _, p := range []string{"contract-package-", "hash-"} {
		ref = strings.TrimPrefix(ref, p)
	}
	return ref
}
