package identity

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"xrpl-nft-archiver/internal/domain"
	"xrpl-nft-archiver/internal/logging"
	"xrpl-nft-archiver/internal/xrpl"
)

// Strategy selects how identity and pointer are derived for a run.
type Strategy string

// Resolution strategies.
const (
	// FromEvent reads the token id from the event metadata and the pointer
	// from its URI, falling back to the issuer domain when URI is absent.
	FromEvent Strategy = "event"
	// FromDomain reads the token id from the event and always resolves the
	// pointer through the issuer domain.
	FromDomain Strategy = "domain"
	// FromLookup takes a bare token id and asks the token lookup API.
	FromLookup Strategy = "lookup"
	// FromReplayPayload reads a persisted payload: the token id from its
	// NFTokenID field (or its metadata), the pointer like FromEvent.
	FromReplayPayload Strategy = "replay"
)

// ParseStrategy parses a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case FromEvent, FromDomain, FromLookup, FromReplayPayload:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown strategy %q", s)
}

// AccountLookup reads account roots from the ledger.
type AccountLookup interface {
	AccountInfo(ctx context.Context, address string) (*xrpl.AccountInfo, error)
}

// TokenLookup returns the hex-encoded URI of a token from a third-party index.
type TokenLookup interface {
	LookupURI(ctx context.Context, tokenID string) (string, error)
}

// Source is the input of one resolution. Event is required for every
// strategy except FromLookup, which needs TokenID.
type Source struct {
	Event   *domain.LedgerEvent
	TokenID string
}

// Identity is a resolved token id and metadata pointer.
type Identity struct {
	TokenID  string
	Pointer  string
	Issuer   string
	Strategy Strategy
}

// Config configures the resolver.
type Config struct {
	// DomainFallback enables pointer resolution through the issuer domain
	// when an event carries no URI.
	DomainFallback bool             `yaml:"domain_fallback"`
	Templates      []DomainTemplate `yaml:"domain_templates"`
}

// DefaultConfig returns the default resolver configuration.
func DefaultConfig() Config {
	return Config{
		DomainFallback: true,
		Templates:      DefaultDomainTemplates(),
	}
}

// Resolver derives identities under a strategy.
type Resolver struct {
	accounts AccountLookup
	tokens   TokenLookup
	domains  *DomainResolver
	config   Config
}

// NewResolver creates a resolver. accounts and tokens may be nil when the
// strategies that need them are not used.
func NewResolver(accounts AccountLookup, tokens TokenLookup, config Config) *Resolver {
	return &Resolver{
		accounts: accounts,
		tokens:   tokens,
		domains:  NewDomainResolver(config.Templates),
		config:   config,
	}
}

// Resolve derives the token id and pointer for src under strategy.
// The token id is returned alongside pointer errors when it is known.
func (r *Resolver) Resolve(ctx context.Context, strategy Strategy, src Source) (*Identity, error) {
	id := &Identity{Strategy: strategy, TokenID: src.TokenID}

	switch strategy {
	case FromEvent, FromDomain, FromReplayPayload:
		if src.Event == nil {
			return id, fmt.Errorf("strategy %s: missing event", strategy)
		}
	case FromLookup:
		if src.TokenID == "" {
			return id, fmt.Errorf("%w: lookup without token id", ErrNoIdentity)
		}
	default:
		return id, fmt.Errorf("unknown strategy %q", strategy)
	}

	var err error
	switch strategy {
	case FromEvent, FromDomain:
		id.TokenID, err = ExtractTokenID(src.Event)
	case FromReplayPayload:
		id.TokenID, err = r.payloadTokenID(src)
	}
	if err != nil {
		logging.FromContext(ctx).Info("no token identity", zap.Error(err), zap.String("strategy", string(strategy)))
		return id, err
	}

	switch strategy {
	case FromEvent, FromReplayPayload:
		id.Pointer, err = r.eventPointer(ctx, src.Event, id)
	case FromDomain:
		id.Pointer, err = r.domainPointer(ctx, src.Event, id)
	case FromLookup:
		id.Pointer, err = r.lookupPointer(ctx, id.TokenID)
	}
	if err != nil {
		return id, err
	}
	return id, nil
}

func (r *Resolver) payloadTokenID(src Source) (string, error) {
	if src.Event.NFTokenID != "" {
		return src.Event.NFTokenID, nil
	}
	if src.Event.Meta != nil {
		if tokenID, err := ExtractTokenID(src.Event); err == nil {
			return tokenID, nil
		}
	}
	if src.TokenID != "" {
		return src.TokenID, nil
	}
	return "", fmt.Errorf("%w: payload has no token id", ErrNoIdentity)
}

func (r *Resolver) eventPointer(ctx context.Context, ev *domain.LedgerEvent, id *Identity) (string, error) {
	if ev.URI != "" {
		return DecodeURI(ev.URI)
	}
	if !r.config.DomainFallback {
		return "", ErrMissingURI
	}
	return r.domainPointer(ctx, ev, id)
}

// domainPointer resolves through the event's Domain field, or the issuing
// account's on-ledger domain.
func (r *Resolver) domainPointer(ctx context.Context, ev *domain.LedgerEvent, id *Identity) (string, error) {
	domainValue := ev.Domain
	if domainValue == "" {
		issuer := ev.IssuerAccount()
		if issuer == "" {
			var err error
			if issuer, err = xrpl.IssuerFromTokenID(id.TokenID); err != nil {
				return "", fmt.Errorf("%w: no issuer: %v", ErrMissingURI, err)
			}
		}
		id.Issuer = issuer

		if r.accounts == nil {
			return "", fmt.Errorf("%w: no account lookup configured", ErrMissingURI)
		}
		info, err := r.accounts.AccountInfo(ctx, issuer)
		if err != nil {
			if errors.Is(err, xrpl.ErrAccountNotFound) {
				return "", fmt.Errorf("%w: %v", ErrNoDomain, err)
			}
			return "", fmt.Errorf("account info %s: %w", issuer, err)
		}
		if info.DomainHex == "" {
			return "", fmt.Errorf("%w: %s", ErrNoDomain, issuer)
		}
		if domainValue, err = DecodeHexText(info.DomainHex); err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnrecognizedDomain, err)
		}
	}

	pointer, err := r.domains.Pointer(domainValue, id.TokenID)
	if err != nil {
		logging.FromContext(ctx).Info("unrecognized issuer domain",
			zap.String("domain", domainValue), zap.String("token_id", id.TokenID))
		return "", err
	}
	return pointer, nil
}

func (r *Resolver) lookupPointer(ctx context.Context, tokenID string) (string, error) {
	if r.tokens == nil {
		return "", fmt.Errorf("%w: no token lookup configured", ErrMissingURI)
	}
	hexURI, err := r.tokens.LookupURI(ctx, tokenID)
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", tokenID, err)
	}
	return DecodeURI(hexURI)
}
