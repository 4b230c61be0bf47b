package usecases

import (
	"context"
	"strings"

	"github.com/datacatalyst/streamhub/internal/domain"
	"github.com/datacatalyst/streamhub/internal/infrastructure/logging"
)

// StreamService handles the business logic of opening a stream: loading
// the definition from the catalog and authorizing the caller against it.
type StreamService struct {
	catalog   domain.CatalogStore
	validator domain.TokenValidator
	logger    *logging.Logger
}

// StreamServiceConfig contains the collaborators for the StreamService.
type StreamServiceConfig struct {
	Catalog   domain.CatalogStore
	Validator domain.TokenValidator
	Logger    *logging.Logger
}

// NewStreamService creates a new StreamService with the given collaborators.
func NewStreamService(config StreamServiceConfig) *StreamService {
	logger := config.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StreamService{
		catalog:   config.Catalog,
		validator: config.Validator,
		logger:    logger,
	}
}

// Open authenticates the bearer token, loads the stream definition, and
// authorizes the caller: the caller must own the stream directly or via
// its owning team, and hold a read grant on every dataset in the
// stream's range.
func (s *StreamService) Open(ctx context.Context, bearer string, id domain.StreamID) (*domain.StreamDefinition, *domain.Token, error) {
	if strings.TrimSpace(bearer) == "" {
		return nil, nil, domain.ErrUnauthorized
	}
	if s.validator == nil {
		// No verification key configured: the authenticated entry
		// point rejects every caller rather than trusting anyone.
		s.logger.Warn("no token validator configured, rejecting", logging.Fields{"stream_id": string(id)})
		return nil, nil, domain.ErrUnauthorized
	}
	token, err := s.validator.Validate(ctx, bearer)
	if err != nil {
		s.logger.Warn("token rejected", logging.Fields{"stream_id": string(id), "error": err.Error()})
		return nil, nil, domain.ErrUnauthorized
	}

	def, err := s.catalog.Stream(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	if !ownsStream(token, def) {
		return nil, nil, domain.NewAccessDeniedError(id, "not an owner of the stream")
	}
	for _, dataset := range def.Range.Datasets {
		if !token.CanRead(dataset) {
			return nil, nil, domain.NewAccessDeniedError(id, "missing read permission on dataset "+dataset)
		}
	}
	return def, token, nil
}

// OpenInternal loads the stream definition without authentication. Used
// by the trusted-internal entry point, where the caller's identity was
// established upstream.
func (s *StreamService) OpenInternal(ctx context.Context, id domain.StreamID) (*domain.StreamDefinition, error) {
	return s.catalog.Stream(ctx, id)
}

// SetConnected records the stream's display-only liveness flag. Best
// effort; failures are logged, never surfaced to the session.
func (s *StreamService) SetConnected(ctx context.Context, id domain.StreamID, connected bool) {
	if err := s.catalog.SetConnected(ctx, id, connected); err != nil {
		s.logger.Warn("connected flag update failed", logging.Fields{
			"stream_id": string(id),
			"connected": connected,
			"error":     err.Error(),
		})
	}
}

func ownsStream(token *domain.Token, def *domain.StreamDefinition) bool {
	if token.UserID != "" && token.UserID == def.OwnerUserID {
		return true
	}
	return def.OwnerTeamID != "" && token.MemberOf(def.OwnerTeamID)
}
