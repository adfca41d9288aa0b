package checkout

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/cart"
	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

const defaultIdleTTL = 2 * time.Hour

// Dependencies: коллабораторы автомата.
type Dependencies struct {
	Cart       domain.CartProvider
	Addresses  AddressResolver
	Payments   PaymentInitiator
	Reconciler ReturnReconciler
	// Outbox может быть nil: события жизненного цикла тогда не публикуются.
	Outbox domain.OutboxRepository
	// Timeline может быть nil: история тогда живёт только в автомате.
	Timeline domain.TimelineRepository
	Metrics  *metrics.CheckoutMetrics
	Logger   *log.Entry
	Now      func() time.Time
}

// Manager держит по одному автомату на сессию оформления.
type Manager struct {
	deps       *collaborators
	reconciler ReturnReconciler

	mu       sync.Mutex
	machines map[string]*Machine
}

// NewManager создаёт реестр автоматов.
func NewManager(deps Dependencies) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = log.New().WithField("component", "checkout")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		deps: &collaborators{
			cart:      deps.Cart,
			addresses: deps.Addresses,
			payments:  deps.Payments,
			timeline:  deps.Timeline,
			events:    &eventEmitter{outbox: deps.Outbox, metrics: deps.Metrics, logger: logger},
			metrics:   deps.Metrics,
			logger:    logger,
			now:       now,
		},
		reconciler: deps.Reconciler,
		machines:   make(map[string]*Machine),
	}
}

// Begin начинает новую попытку оформления. Прежний автомат сессии заменяется,
// если он не занят переходом.
func (m *Manager) Begin(ctx context.Context, sessionID, ownerID string) (View, error) {
	if sessionID == "" {
		return View{}, domain.ErrSessionRequired
	}

	m.mu.Lock()
	machine, ok := m.machines[sessionID]
	reuse := ok && machine.ownerID == ownerID && reenterable(machine.Status())
	if ok && machine.busy.Load() {
		m.mu.Unlock()
		return View{}, domain.ErrTransitionInFlight
	}
	if !reuse {
		machine = m.installLocked(sessionID, newMachine(sessionID, ownerID, m.deps))
	}
	m.mu.Unlock()

	return machine.Begin(ctx)
}

// SubmitShipping выполняет переход Shipping → Payment.
func (m *Manager) SubmitShipping(ctx context.Context, sessionID string, in ShippingInput) (View, error) {
	machine, err := m.get(sessionID)
	if err != nil {
		return View{}, err
	}
	return machine.SubmitShipping(ctx, in)
}

// Back выполняет переход Payment → Shipping.
func (m *Manager) Back(ctx context.Context, sessionID string) (View, error) {
	machine, err := m.get(sessionID)
	if err != nil {
		return View{}, err
	}
	return machine.Back(ctx)
}

// SubmitPayment запускает оплату выбранным способом.
func (m *Manager) SubmitPayment(ctx context.Context, sessionID string, sel domain.PaymentMethodSelection) (View, error) {
	machine, err := m.get(sessionID)
	if err != nil {
		return View{}, err
	}
	return machine.SubmitPayment(ctx, sel)
}

// Retry возвращает сессию из Failed к выбору оплаты.
func (m *Manager) Retry(ctx context.Context, sessionID string) (View, error) {
	machine, err := m.get(sessionID)
	if err != nil {
		return View{}, err
	}
	return machine.Retry(ctx)
}

// View возвращает состояние сессии.
func (m *Manager) View(sessionID string) (View, error) {
	machine, err := m.get(sessionID)
	if err != nil {
		return View{}, err
	}
	return machine.View(), nil
}

// History возвращает историю переходов сессии. Без timeline-хранилища история
// берётся из живого автомата и теряется после его вытеснения.
func (m *Manager) History(ctx context.Context, sessionID string) ([]domain.TimelineEvent, error) {
	if sessionID == "" {
		return nil, domain.ErrSessionRequired
	}
	if m.deps.timeline != nil {
		return m.deps.timeline.List(ctx, sessionID)
	}

	machine, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}
	view := machine.View()
	events := make([]domain.TimelineEvent, 0, len(view.History))
	for _, tr := range view.History {
		events = append(events, domain.TimelineEvent{SessionID: sessionID, From: tr.From, To: tr.To, Occurred: tr.At})
	}
	return events, nil
}

// Reconcile обрабатывает возврат со страницы шлюза. Это свежий экземпляр того же
// логического потока: он опирается только на ledger, а не на автомат до перехода.
func (m *Manager) Reconcile(ctx context.Context, sessionID, ownerID string, params domain.ReturnParams) (View, error) {
	if sessionID == "" {
		return View{}, domain.ErrSessionRequired
	}

	m.mu.Lock()
	if existing, ok := m.machines[sessionID]; ok && existing.busy.Load() {
		m.mu.Unlock()
		return View{}, domain.ErrTransitionInFlight
	}
	machine := m.installLocked(sessionID, newMachine(sessionID, ownerID, m.deps))
	m.mu.Unlock()

	release, err := machine.acquire(ctx)
	if err != nil {
		return View{}, err
	}
	defer release()

	res := m.reconciler.Reconcile(ctx, sessionID, params)
	if res.Pending != nil && ownerID == "" {
		m.mu.Lock()
		machine.ownerID = res.Pending.OwnerID
		m.mu.Unlock()
	}
	machine.restore(res)

	if res.Status == domain.CheckoutStatusCompleted {
		machine.emitOrder(domain.EventCheckoutCompleted, res.OrderID)
	} else {
		machine.emit(domain.EventCheckoutReconcileError, res.Message)
	}
	return machine.View(), res.Err
}

// OnCartEvent: подписчик на изменения корзины.
func (m *Manager) OnCartEvent(event cart.Event) {
	m.mu.Lock()
	machine, ok := m.machines[event.CartID]
	m.mu.Unlock()
	if !ok {
		return
	}
	machine.onCartChanged(event.Snapshot)
}

// Forget удаляет автомат сессии.
func (m *Manager) Forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.machines[sessionID]; ok {
		delete(m.machines, sessionID)
		m.deps.metrics.RecordSessionFinished()
	}
}

// EvictIdle удаляет автоматы, к которым не обращались с момента before.
func (m *Manager) EvictIdle(before time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, machine := range m.machines {
		if machine.busy.Load() || !machine.idleSince().Before(before) {
			continue
		}
		delete(m.machines, id)
		m.deps.metrics.RecordSessionFinished()
		evicted++
	}
	return evicted
}

// Run периодически вычищает брошенные автоматы до отмены ctx.
func (m *Manager) Run(ctx context.Context, interval, idleTTL time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.EvictIdle(m.deps.now().Add(-idleTTL)); n > 0 {
				m.deps.logger.WithField("evicted", n).Debug("idle checkout sessions evicted")
			}
		}
	}
}

// Len возвращает число живых автоматов.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.machines)
}

func (m *Manager) get(sessionID string) (*Machine, error) {
	if sessionID == "" {
		return nil, domain.ErrSessionRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	machine, ok := m.machines[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return machine, nil
}

func (m *Manager) installLocked(sessionID string, machine *Machine) *Machine {
	if _, ok := m.machines[sessionID]; !ok {
		m.deps.metrics.RecordSessionStarted()
	}
	m.machines[sessionID] = machine
	return machine
}

// reenterable: повторный Begin в этих состояниях продолжает текущую попытку.
func reenterable(status domain.CheckoutStatus) bool {
	switch status {
	case domain.CheckoutStatusNew, domain.CheckoutStatusShipping, domain.CheckoutStatusEmptyCart:
		return true
	default:
		return false
	}
}
