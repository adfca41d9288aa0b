// Package mock: конфигурируемый платёжный шлюз в процессе для разработки и тестов.
package mock

import (
	"context"
	"net/url"
	"sync"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Gateway: заглушка Tokenizer и RedirectGateway. По умолчанию всё успешно:
// токенизация возвращает фиктивную Visa, redirect ведёт прямо на callback URL
// с кодом ResponseCode и сгенерированным transaction reference.
type Gateway struct {
	mu sync.Mutex

	TokenizeErr error
	RedirectErr error
	// ResponseCode подставляется в redirect URL, чтобы локально пройти весь путь возврата.
	ResponseCode string
	Card         domain.CardToken

	TokenizeCalls int
	RedirectCalls int
	VerifyCalls   int
	LastRedirect  domain.RedirectRequest

	issued map[string]string
}

var (
	_ domain.PaymentGateway = (*Gateway)(nil)
	_ domain.ReturnVerifier = (*Gateway)(nil)
)

// NewGateway возвращает mock с успешным сценарием по умолчанию.
func NewGateway() *Gateway {
	return &Gateway{
		ResponseCode: domain.ResponseCodeSuccess,
		Card:         domain.CardToken{Brand: "visa", Last4: "4242", ExpMonth: 12, ExpYear: 2030},
	}
}

// Tokenize возвращает настроенный результат и считает вызовы.
func (g *Gateway) Tokenize(_ context.Context, hostedFieldsRef string, _ domain.Customer) (domain.CardToken, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.TokenizeCalls++
	if g.TokenizeErr != nil {
		return domain.CardToken{}, g.TokenizeErr
	}
	if hostedFieldsRef == "" {
		return domain.CardToken{}, domain.ErrHostedFieldsRequired
	}
	token := g.Card
	token.Token = "tok_" + hostedFieldsRef
	return token, nil
}

// CreateRedirect возвращает callback URL с параметрами результата.
func (g *Gateway) CreateRedirect(_ context.Context, req domain.RedirectRequest) (domain.RedirectSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.RedirectCalls++
	g.LastRedirect = req
	if g.RedirectErr != nil {
		return domain.RedirectSession{}, g.RedirectErr
	}

	ref := "MOCK-" + uuid.NewString()
	target, err := url.Parse(req.CallbackURL)
	if err != nil {
		return domain.RedirectSession{}, &domain.GatewayError{Message: "invalid callback URL"}
	}
	query := target.Query()
	query.Set("Response", g.ResponseCode)
	query.Set("index", ref)
	target.RawQuery = query.Encode()

	if g.issued == nil {
		g.issued = make(map[string]string)
	}
	g.issued[ref] = req.CartID
	return domain.RedirectSession{URL: target.String(), Reference: ref}, nil
}

// Calls возвращает счётчики под блокировкой.
func (g *Gateway) Calls() (tokenize, redirect int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.TokenizeCalls, g.RedirectCalls
}

// VerifyReturn принимает только transaction reference, выданный этим mock для той же сессии.
func (g *Gateway) VerifyReturn(_ context.Context, sessionID string, params domain.ReturnParams) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.VerifyCalls++
	if owner, ok := g.issued[params.TransactionReference]; !ok || owner != sessionID {
		return &domain.GatewayError{Code: "unknown_reference", Message: "transaction reference was not issued by the gateway"}
	}
	return nil
}
