package push

import (
	"context"

	"driverlink/logger"
)

// Provider abstracts the platform push SDK. The concrete implementation is
// injected by the host; deployments without one get NoopProvider, so every
// operation degrades to a logged warning instead of an error. Push is a
// best-effort wake-up channel, never a required one.
type Provider interface {
	RequestPermission(ctx context.Context) error
	Token(ctx context.Context) (string, error)
	Subscribe(ctx context.Context, topic string) error
	Unsubscribe(ctx context.Context, topic string) error
	Listen(ctx context.Context, handler func(payload []byte)) error
	Close() error
}

// NoopProvider is the null-object fallback used when no push SDK is
// available at runtime.
type NoopProvider struct {
	log *logger.Log
}

func NewNoopProvider() *NoopProvider {
	return &NoopProvider{log: logger.GetLogger()}
}

func (p *NoopProvider) warn(op string) {
	p.log.WithComponent("push_provider").WithFields(logger.Fields{"operation": op}).
		Warn("push provider unavailable, operation skipped")
}

func (p *NoopProvider) RequestPermission(ctx context.Context) error {
	p.warn("request_permission")
	return nil
}

func (p *NoopProvider) Token(ctx context.Context) (string, error) {
	p.warn("token")
	return "", nil
}

func (p *NoopProvider) Subscribe(ctx context.Context, topic string) error {
	p.warn("subscribe")
	return nil
}

func (p *NoopProvider) Unsubscribe(ctx context.Context, topic string) error {
	p.warn("unsubscribe")
	return nil
}

func (p *NoopProvider) Listen(ctx context.Context, handler func(payload []byte)) error {
	p.warn("listen")
	return nil
}

func (p *NoopProvider) Close() error {
	return nil
}
