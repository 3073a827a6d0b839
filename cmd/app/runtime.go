package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"notary-chat/internal/config"
	"notary-chat/internal/domain"
	"notary-chat/internal/integrations/notaryapi"
	"notary-chat/internal/integrations/paramstore"
	"notary-chat/internal/logger"
	"notary-chat/internal/session"
	"notary-chat/internal/store"
	"notary-chat/internal/usecase"
)

// runtime wires the clients one command needs. AWS config is loaded only
// when a command touches DynamoDB or Parameter Store.
type runtime struct {
	cfg *config.Config
	log *slog.Logger
	api *notaryapi.Client

	awsOnce sync.Once
	awsCfg  aws.Config
	awsErr  error
}

func newRuntime(opt *Option) (*runtime, error) {
	cfg, err := opt.GenerateConfig()
	if err != nil {
		return nil, err
	}
	log := logger.Init(cfg.LogLevel)

	api, err := notaryapi.NewClient(cfg.API.BaseURL,
		notaryapi.WithRequestTimeout(cfg.API.RequestTimeout),
		notaryapi.WithStreamHTTPClient(notaryapi.NewStreamHTTPClient(cfg.API.StreamConnectTimeout)),
		notaryapi.WithIdleTimeout(cfg.API.StreamIdleTimeout),
		notaryapi.WithChunkSize(cfg.API.StreamChunkSize),
		notaryapi.WithSentinel(cfg.API.StreamSentinel),
		notaryapi.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	return &runtime{cfg: cfg, log: log, api: api}, nil
}

func (r *runtime) aws(ctx context.Context) (aws.Config, error) {
	r.awsOnce.Do(func() {
		r.awsCfg, r.awsErr = awsconfig.LoadDefaultConfig(ctx)
		if r.awsErr != nil {
			r.awsErr = fmt.Errorf("load AWS config: %w", r.awsErr)
		}
	})
	return r.awsCfg, r.awsErr
}

func (r *runtime) sessionStore(ctx context.Context) (session.Store, error) {
	switch r.cfg.Session.Backend {
	case config.BackendMemory:
		return session.NewMemoryStore(), nil
	case config.BackendDynamoDB:
		awsCfg, err := r.aws(ctx)
		if err != nil {
			return nil, err
		}
		return session.NewDynamoStore(awsdynamodb.NewFromConfig(awsCfg), r.cfg.Session.Table)
	default:
		path := r.cfg.Session.BoltPath
		if path == "" {
			path = session.DefaultBoltPath()
		}
		return session.NewBoltStore(path)
	}
}

func (r *runtime) sessions(ctx context.Context) (*session.Manager, error) {
	st, err := r.sessionStore(ctx)
	if err != nil {
		return nil, err
	}
	return session.NewManager(r.api, st,
		session.WithProfile(r.cfg.Session.Profile),
		session.WithLogger(r.log),
	)
}

func (r *runtime) paramstore(ctx context.Context) (*paramstore.Client, error) {
	awsCfg, err := r.aws(ctx)
	if err != nil {
		return nil, err
	}
	return paramstore.New(awsssm.NewFromConfig(awsCfg))
}

// credentials restores the signed-in session of the configured profile.
func (r *runtime) credentials(ctx context.Context) (domain.Credentials, error) {
	m, err := r.sessions(ctx)
	if err != nil {
		return domain.Credentials{}, err
	}
	creds, err := m.Restore(ctx)
	if errors.Is(err, session.ErrNoSession) {
		return domain.Credentials{}, fmt.Errorf("profile %q is not signed in, run login first", m.Profile())
	}
	return creds, err
}

func (r *runtime) workspace(creds domain.Credentials, presenter usecase.Presenter) (*usecase.Workspace, error) {
	chat := r.cfg.Chat
	return usecase.NewWorkspace(r.api, store.New(), presenter, creds,
		usecase.WithLogger(r.log),
		usecase.WithStreaming(chat.Streaming),
		usecase.WithPlaceholderTitle(chat.PlaceholderTitle),
		usecase.WithWelcomeMessage(chat.WelcomeMessage),
		usecase.WithErrorReply(chat.ErrorReply),
		usecase.WithTitleLength(chat.TitleLength),
	)
}
