package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/kursadbilgin/accountability-dispatch/internal/domain"
	"github.com/kursadbilgin/accountability-dispatch/internal/ratelimit"
)

const (
	defaultRequestTimeout = 5 * time.Second
	defaultTokenTTL       = 30 * time.Minute
	adminTokenTTL         = time.Minute
	createRoomPath        = "/twirp/livekit.RoomService/CreateRoom"
	roomEmptyTimeoutSecs  = 600
	roomMaxParticipants   = 2
)

type Config struct {
	URL       string
	APIKey    string
	APISecret string
	TokenTTL  time.Duration
}

type videoGrant struct {
	RoomCreate   bool   `json:"roomCreate,omitempty"`
	RoomJoin     bool   `json:"roomJoin,omitempty"`
	Room         string `json:"room,omitempty"`
	CanPublish   *bool  `json:"canPublish,omitempty"`
	CanSubscribe *bool  `json:"canSubscribe,omitempty"`
}

type accessClaims struct {
	jwt.RegisteredClaims
	Name     string     `json:"name,omitempty"`
	Video    videoGrant `json:"video"`
	Metadata string     `json:"metadata,omitempty"`
}

type createRoomRequest struct {
	Name            string `json:"name"`
	EmptyTimeout    int    `json:"empty_timeout"`
	MaxParticipants int    `json:"max_participants"`
}

// LiveKitProvider creates rooms through the LiveKit Twirp API and signs join tokens.
type LiveKitProvider struct {
	client    *resty.Client
	baseURL   string
	apiKey    string
	apiSecret []byte
	tokenTTL  time.Duration
	limiter   ratelimit.RateLimiter
	now       func() time.Time
}

func NewLiveKitProvider(cfg Config, limiter ratelimit.RateLimiter) (*LiveKitProvider, error) {
	client := resty.New()
	client.SetTimeout(defaultRequestTimeout)

	return NewLiveKitProviderWithClient(cfg, client, limiter)
}

func NewLiveKitProviderWithClient(cfg Config, client *resty.Client, limiter ratelimit.RateLimiter) (*LiveKitProvider, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("media url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid media url: %w", err)
	}
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.APISecret) == "" {
		return nil, fmt.Errorf("media api key and secret are required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	client.SetRetryCount(0)

	return &LiveKitProvider{
		client:    client,
		baseURL:   baseURL,
		apiKey:    cfg.APIKey,
		apiSecret: []byte(cfg.APISecret),
		tokenTTL:  ttl,
		limiter:   limiter,
		now:       time.Now,
	}, nil
}

func (p *LiveKitProvider) CreateSession(ctx context.Context, roomName string, participant ParticipantMetadata) (*Session, error) {
	roomName = strings.TrimSpace(roomName)
	if roomName == "" {
		return nil, fmt.Errorf("%w: room name is required", domain.ErrSession)
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, ratelimit.BucketMedia); err != nil {
			return nil, fmt.Errorf("%w: rate limit wait: %w", domain.ErrSession, err)
		}
	}

	if err := p.createRoom(ctx, roomName); err != nil {
		return nil, err
	}

	now := p.now()
	expiresAt := now.Add(p.tokenTTL)
	token, err := p.participantToken(roomName, participant, now, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("%w: sign participant token: %w", domain.ErrSession, err)
	}

	return &Session{
		RoomName:  roomName,
		Token:     token,
		URL:       p.baseURL,
		ExpiresAt: expiresAt,
	}, nil
}

func (p *LiveKitProvider) createRoom(ctx context.Context, roomName string) error {
	now := p.now()
	adminToken, err := p.sign(accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.apiKey,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(adminTokenTTL)),
		},
		Video: videoGrant{RoomCreate: true},
	})
	if err != nil {
		return fmt.Errorf("%w: sign admin token: %w", domain.ErrSession, err)
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetAuthToken(adminToken).
		SetHeader("Content-Type", "application/json").
		SetBody(createRoomRequest{
			Name:            roomName,
			EmptyTimeout:    roomEmptyTimeoutSecs,
			MaxParticipants: roomMaxParticipants,
		}).
		Post(p.baseURL + createRoomPath)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: create room: %w", domain.ErrSession, err)
	}

	if status := response.StatusCode(); status < http.StatusOK || status >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: create room returned status %d: %s", domain.ErrSession, status, strings.TrimSpace(response.String()))
	}
	return nil
}

func (p *LiveKitProvider) participantToken(roomName string, participant ParticipantMetadata, issuedAt, expiresAt time.Time) (string, error) {
	metadata, err := json.Marshal(participant)
	if err != nil {
		return "", err
	}

	allow := true
	return p.sign(accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.apiKey,
			Subject:   participant.UserID,
			ID:        participant.CallUUID,
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Name: participant.Name,
		Video: videoGrant{
			RoomJoin:     true,
			Room:         roomName,
			CanPublish:   &allow,
			CanSubscribe: &allow,
		},
		Metadata: string(metadata),
	})
}

func (p *LiveKitProvider) sign(claims accessClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.apiSecret)
}
