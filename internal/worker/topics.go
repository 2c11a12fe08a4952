package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"

	"github.com/saturnino-fabrica-de-software/shophook/internal/domain"
)

// Registry is the tenant lifecycle surface the handlers drive.
// *service.TenantRegistry implements it.
type Registry interface {
	MarkUninstalled(ctx context.Context, shopDomain string) error
	MarkRedacted(ctx context.Context, shopDomain string) error
	GetActiveCredential(ctx context.Context, shopDomain string) ([]byte, error)
	MarkNeedsReauth(ctx context.Context, shopDomain string) error
}

// CustomerDataEraser removes one customer's data for a tenant. Implementations
// must tolerate the same request arriving more than once.
type CustomerDataEraser interface {
	EraseCustomer(ctx context.Context, shopDomain string, payload []byte) error
}

// DataRequestExporter hands a customer data request to whatever produces the export.
type DataRequestExporter interface {
	ExportCustomerData(ctx context.Context, shopDomain string, payload []byte) error
}

// BillingSync reacts to subscription changes.
type BillingSync interface {
	SyncSubscription(ctx context.Context, shopDomain string, payload []byte) error
}

type noopCollaborator struct{}

func (noopCollaborator) EraseCustomer(context.Context, string, []byte) error      { return nil }
func (noopCollaborator) ExportCustomerData(context.Context, string, []byte) error { return nil }
func (noopCollaborator) SyncSubscription(context.Context, string, []byte) error   { return nil }

// Dependencies for the built-in handlers. Nil collaborators default to no-ops.
type Dependencies struct {
	Registry Registry
	Eraser   CustomerDataEraser
	Exporter DataRequestExporter
	Billing  BillingSync
	Logger   *slog.Logger
}

// RegisterDefaults binds every known topic and general lane job type.
func RegisterDefaults(h *Handlers, deps Dependencies) {
	if deps.Eraser == nil {
		deps.Eraser = noopCollaborator{}
	}
	if deps.Exporter == nil {
		deps.Exporter = noopCollaborator{}
	}
	if deps.Billing == nil {
		deps.Billing = noopCollaborator{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	t := topicHandlers{deps: deps}

	h.Register(domain.LaneWebhook, domain.TopicAppUninstalled.String(), t.uninstalled)
	h.Register(domain.LaneWebhook, domain.TopicCustomersDataRequest.String(), t.dataRequest)
	h.Register(domain.LaneWebhook, domain.TopicCustomersRedact.String(), t.customerRedact)
	h.Register(domain.LaneWebhook, domain.TopicShopRedact.String(), t.shopRedact)
	h.Register(domain.LaneWebhook, domain.TopicAppSubscriptionUpdate.String(), t.subscriptionUpdate)

	h.Register(domain.LaneGeneral, domain.JobTypeCredentialCheck, t.credentialCheck)
}

type topicHandlers struct {
	deps Dependencies
}

func (t topicHandlers) uninstalled(ctx context.Context, task Task) error {
	err := t.deps.Registry.MarkUninstalled(ctx, task.ShopDomain())
	if errors.Is(err, domain.ErrTenantNotFound) {
		t.deps.Logger.Warn("uninstall for unknown tenant", "tenant", task.ShopDomain())
		return nil
	}
	return err
}

func (t topicHandlers) dataRequest(ctx context.Context, task Task) error {
	return t.deps.Exporter.ExportCustomerData(ctx, task.ShopDomain(), task.Delivery.Body)
}

func (t topicHandlers) customerRedact(ctx context.Context, task Task) error {
	return t.deps.Eraser.EraseCustomer(ctx, task.ShopDomain(), task.Delivery.Body)
}

func (t topicHandlers) shopRedact(ctx context.Context, task Task) error {
	return t.deps.Registry.MarkRedacted(ctx, task.ShopDomain())
}

func (t topicHandlers) subscriptionUpdate(ctx context.Context, task Task) error {
	return t.deps.Billing.SyncSubscription(ctx, task.ShopDomain(), task.Delivery.Body)
}

// credentialCheck flags tenants whose stored credential can no longer be used.
func (t topicHandlers) credentialCheck(ctx context.Context, task Task) error {
	var payload domain.TenantJobPayload
	if err := json.Unmarshal(task.Job.Payload, &payload); err != nil {
		return fmt.Errorf("decode credential check payload: %w", err)
	}

	_, err := t.deps.Registry.GetActiveCredential(ctx, payload.ShopDomain)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrTenantNotFound):
		return nil
	case errors.Is(err, domain.ErrCredentialUnavailable):
		t.deps.Logger.Warn("tenant needs reauthorization", "tenant", payload.ShopDomain)
		err = t.deps.Registry.MarkNeedsReauth(ctx, payload.ShopDomain)
		if errors.Is(err, domain.ErrTenantNotFound) {
			return nil
		}
		return err
	default:
		return err
	}
}
