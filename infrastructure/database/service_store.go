package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dotmac/ispsaga/domain/service"
)

// InstanceStore is a Postgres-backed service.InstanceStore.
type InstanceStore struct {
	db *sqlx.DB
}

// NewInstanceStore builds an InstanceStore over db.
func NewInstanceStore(db *sqlx.DB) *InstanceStore {
	return &InstanceStore{db: db}
}

var _ service.InstanceStore = (*InstanceStore)(nil)

type instanceRow struct {
	ID                    string       `db:"id"`
	TenantID              string       `db:"tenant_id"`
	ServiceName           string       `db:"service_name"`
	ServiceType           string       `db:"service_type"`
	CustomerID            string       `db:"customer_id"`
	SubscriptionID        string       `db:"subscription_id"`
	SubscriberID          string       `db:"subscriber_id"`
	Status                string       `db:"status"`
	ProvisioningSubStatus string       `db:"provisioning_sub_status"`
	ProvisioningStartedAt sql.NullTime `db:"provisioning_started_at"`
	ProvisionedAt         sql.NullTime `db:"provisioned_at"`
	ActivatedAt           sql.NullTime `db:"activated_at"`
	SuspendedAt           sql.NullTime `db:"suspended_at"`
	TerminatedAt          sql.NullTime `db:"terminated_at"`
	SuspensionType        string       `db:"suspension_type"`
	SuspensionReason      string       `db:"suspension_reason"`
	AutoResumeAt          sql.NullTime `db:"auto_resume_at"`
	InstallationMetadata  []byte       `db:"installation_metadata"`
	Equipment             []byte       `db:"equipment"`
	VLAN                  int          `db:"vlan"`
	LastHealthCheck       []byte       `db:"last_health_check"`
	Metadata              []byte       `db:"metadata"`
	CreatedAt             time.Time    `db:"created_at"`
	UpdatedAt             time.Time    `db:"updated_at"`
}

func toInstanceRow(inst *service.Instance) (*instanceRow, error) {
	installMeta, err := json.Marshal(orEmpty(inst.InstallationMetadata))
	if err != nil {
		return nil, fmt.Errorf("marshal installation metadata: %w", err)
	}
	equipment, err := json.Marshal(inst.Equipment)
	if err != nil {
		return nil, fmt.Errorf("marshal equipment: %w", err)
	}
	meta, err := json.Marshal(orEmpty(inst.Metadata))
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	var health []byte
	if inst.LastHealthCheck != nil {
		health, err = json.Marshal(inst.LastHealthCheck)
		if err != nil {
			return nil, fmt.Errorf("marshal health check: %w", err)
		}
	}
	return &instanceRow{
		ID:                    inst.ID,
		TenantID:              inst.TenantID,
		ServiceName:           inst.ServiceName,
		ServiceType:           inst.ServiceType,
		CustomerID:            inst.CustomerID,
		SubscriptionID:        inst.SubscriptionID,
		SubscriberID:          inst.SubscriberID,
		Status:                string(inst.Status),
		ProvisioningSubStatus: inst.ProvisioningSubStatus,
		ProvisioningStartedAt: timeToNull(inst.ProvisioningStartedAt),
		ProvisionedAt:         timeToNull(inst.ProvisionedAt),
		ActivatedAt:           timeToNull(inst.ActivatedAt),
		SuspendedAt:           timeToNull(inst.SuspendedAt),
		TerminatedAt:          timeToNull(inst.TerminatedAt),
		SuspensionType:        string(inst.SuspensionType),
		SuspensionReason:      inst.SuspensionReason,
		AutoResumeAt:          timeToNull(inst.AutoResumeAt),
		InstallationMetadata:  installMeta,
		Equipment:             equipment,
		VLAN:                  inst.VLAN,
		LastHealthCheck:       health,
		Metadata:              meta,
		CreatedAt:             inst.CreatedAt,
		UpdatedAt:             inst.UpdatedAt,
	}, nil
}

func (r *instanceRow) toInstance() (*service.Instance, error) {
	inst := &service.Instance{
		ID:                    r.ID,
		TenantID:              r.TenantID,
		ServiceName:           r.ServiceName,
		ServiceType:           r.ServiceType,
		CustomerID:            r.CustomerID,
		SubscriptionID:        r.SubscriptionID,
		SubscriberID:          r.SubscriberID,
		Status:                service.Status(r.Status),
		ProvisioningSubStatus: r.ProvisioningSubStatus,
		ProvisioningStartedAt: nullToTime(r.ProvisioningStartedAt),
		ProvisionedAt:         nullToTime(r.ProvisionedAt),
		ActivatedAt:           nullToTime(r.ActivatedAt),
		SuspendedAt:           nullToTime(r.SuspendedAt),
		TerminatedAt:          nullToTime(r.TerminatedAt),
		SuspensionType:        service.SuspensionType(r.SuspensionType),
		SuspensionReason:      r.SuspensionReason,
		AutoResumeAt:          nullToTime(r.AutoResumeAt),
		VLAN:                  r.VLAN,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
	if err := unmarshalInto(r.InstallationMetadata, &inst.InstallationMetadata); err != nil {
		return nil, fmt.Errorf("unmarshal installation metadata: %w", err)
	}
	if err := unmarshalInto(r.Metadata, &inst.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if len(r.Equipment) > 0 {
		if err := json.Unmarshal(r.Equipment, &inst.Equipment); err != nil {
			return nil, fmt.Errorf("unmarshal equipment: %w", err)
		}
	}
	if len(r.LastHealthCheck) > 0 {
		inst.LastHealthCheck = &service.HealthCheckResult{}
		if err := json.Unmarshal(r.LastHealthCheck, inst.LastHealthCheck); err != nil {
			return nil, fmt.Errorf("unmarshal health check: %w", err)
		}
	}
	return inst, nil
}

const insertInstanceSQL = `
INSERT INTO service_instances (
	id, tenant_id, service_name, service_type, customer_id, subscription_id,
	subscriber_id, status, provisioning_sub_status, provisioning_started_at,
	provisioned_at, activated_at, suspended_at, terminated_at, suspension_type,
	suspension_reason, auto_resume_at, installation_metadata, equipment, vlan,
	last_health_check, metadata, created_at, updated_at
) VALUES (
	:id, :tenant_id, :service_name, :service_type, :customer_id, :subscription_id,
	:subscriber_id, :status, :provisioning_sub_status, :provisioning_started_at,
	:provisioned_at, :activated_at, :suspended_at, :terminated_at, :suspension_type,
	:suspension_reason, :auto_resume_at, :installation_metadata, :equipment, :vlan,
	:last_health_check, :metadata, :created_at, :updated_at
)`

func (s *InstanceStore) Create(ctx context.Context, inst *service.Instance) error {
	now := time.Now().UTC()
	inst.CreatedAt, inst.UpdatedAt = now, now
	row, err := toInstanceRow(inst)
	if err != nil {
		return err
	}
	q := queryerFrom(ctx, s.db)
	if _, err := sqlx.NamedExecContext(ctx, q, insertInstanceSQL, row); err != nil {
		return fmt.Errorf("insert service instance: %w", err)
	}
	return nil
}

func (s *InstanceStore) Get(ctx context.Context, id string) (*service.Instance, error) {
	q := queryerFrom(ctx, s.db)
	var row instanceRow
	if err := q.GetContext(ctx, &row, `SELECT * FROM service_instances WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, service.ErrNotFound
		}
		return nil, fmt.Errorf("get service instance: %w", err)
	}
	return row.toInstance()
}

const updateInstanceSQL = `
UPDATE service_instances SET
	service_name = :service_name, service_type = :service_type, customer_id = :customer_id,
	subscription_id = :subscription_id, subscriber_id = :subscriber_id, status = :status,
	provisioning_sub_status = :provisioning_sub_status, provisioning_started_at = :provisioning_started_at,
	provisioned_at = :provisioned_at, activated_at = :activated_at, suspended_at = :suspended_at,
	terminated_at = :terminated_at, suspension_type = :suspension_type, suspension_reason = :suspension_reason,
	auto_resume_at = :auto_resume_at, installation_metadata = :installation_metadata, equipment = :equipment,
	vlan = :vlan, last_health_check = :last_health_check, metadata = :metadata, updated_at = :updated_at
WHERE id = :id`

func (s *InstanceStore) Update(ctx context.Context, inst *service.Instance) error {
	inst.UpdatedAt = time.Now().UTC()
	row, err := toInstanceRow(inst)
	if err != nil {
		return err
	}
	q := queryerFrom(ctx, s.db)
	res, err := sqlx.NamedExecContext(ctx, q, updateInstanceSQL, row)
	if err != nil {
		return fmt.Errorf("update service instance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update service instance rows affected: %w", err)
	}
	if n == 0 {
		return service.ErrNotFound
	}
	return nil
}

func (s *InstanceStore) List(ctx context.Context, tenantID string, status service.Status) ([]*service.Instance, error) {
	q := queryerFrom(ctx, s.db)
	var rows []instanceRow
	query := `SELECT * FROM service_instances WHERE tenant_id = $1`
	args := []any{tenantID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC`
	if err := q.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list service instances: %w", err)
	}
	out := make([]*service.Instance, 0, len(rows))
	for i := range rows {
		inst, err := rows[i].toInstance()
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

func (s *InstanceStore) DueForActivation(ctx context.Context, asOf time.Time) ([]*service.Instance, error) {
	q := queryerFrom(ctx, s.db)
	var rows []instanceRow
	query := `SELECT * FROM service_instances
		WHERE status IN ($1, $2) AND metadata->>'scheduled_activation_at' IS NOT NULL
		AND (metadata->>'scheduled_activation_at')::timestamptz <= $3
		ORDER BY created_at ASC`
	if err := q.SelectContext(ctx, &rows, query, string(service.StatusPending), string(service.StatusProvisioning), asOf); err != nil {
		return nil, fmt.Errorf("list services due for activation: %w", err)
	}
	out := make([]*service.Instance, 0, len(rows))
	for i := range rows {
		inst, err := rows[i].toInstance()
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

func (s *InstanceStore) DueForTermination(ctx context.Context, asOf time.Time) ([]*service.Instance, error) {
	q := queryerFrom(ctx, s.db)
	var rows []instanceRow
	query := `SELECT * FROM service_instances
		WHERE status = $1 AND metadata->>'scheduled_termination_date' IS NOT NULL
		AND (metadata->>'scheduled_termination_date')::timestamptz <= $2
		ORDER BY created_at ASC`
	if err := q.SelectContext(ctx, &rows, query, string(service.StatusTerminating), asOf); err != nil {
		return nil, fmt.Errorf("list services due for termination: %w", err)
	}
	out := make([]*service.Instance, 0, len(rows))
	for i := range rows {
		inst, err := rows[i].toInstance()
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

// EventStore is a Postgres-backed service.EventStore: the append-only
// LifecycleEvent audit trail, written in the same transaction as the
// status change it records when the caller shares ctx's ambient tx.
type EventStore struct {
	db *sqlx.DB
}

// NewEventStore builds an EventStore over db.
func NewEventStore(db *sqlx.DB) *EventStore {
	return &EventStore{db: db}
}

var _ service.EventStore = (*EventStore)(nil)

type eventRow struct {
	ID                string    `db:"id"`
	ServiceInstanceID string    `db:"service_instance_id"`
	Kind              string    `db:"kind"`
	PreviousStatus    string    `db:"previous_status"`
	NewStatus         string    `db:"new_status"`
	Description       string    `db:"description"`
	Success           bool      `db:"success"`
	TriggeredBy       string    `db:"triggered_by"`
	TriggerKind       string    `db:"trigger_kind"`
	EventData         []byte    `db:"event_data"`
	OccurredAt        time.Time `db:"occurred_at"`
}

const insertEventSQL = `
INSERT INTO lifecycle_events (
	id, service_instance_id, kind, previous_status, new_status, description,
	success, triggered_by, trigger_kind, event_data, occurred_at
) VALUES (
	:id, :service_instance_id, :kind, :previous_status, :new_status, :description,
	:success, :triggered_by, :trigger_kind, :event_data, :occurred_at
)`

func (s *EventStore) Append(ctx context.Context, ev *service.Event) error {
	data, err := json.Marshal(orEmpty(ev.EventData))
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	row := eventRow{
		ID:                ev.ID,
		ServiceInstanceID: ev.ServiceInstanceID,
		Kind:              string(ev.Kind),
		PreviousStatus:    string(ev.PreviousStatus),
		NewStatus:         string(ev.NewStatus),
		Description:       ev.Description,
		Success:           ev.Success,
		TriggeredBy:       ev.TriggeredBy,
		TriggerKind:       string(ev.TriggerKind),
		EventData:         data,
		OccurredAt:        ev.OccurredAt,
	}
	q := queryerFrom(ctx, s.db)
	if _, err := sqlx.NamedExecContext(ctx, q, insertEventSQL, row); err != nil {
		return fmt.Errorf("append lifecycle event: %w", err)
	}
	return nil
}

func (s *EventStore) ListByService(ctx context.Context, serviceInstanceID string) ([]*service.Event, error) {
	q := queryerFrom(ctx, s.db)
	var rows []eventRow
	query := `SELECT * FROM lifecycle_events WHERE service_instance_id = $1 ORDER BY occurred_at ASC`
	if err := q.SelectContext(ctx, &rows, query, serviceInstanceID); err != nil {
		return nil, fmt.Errorf("list lifecycle events: %w", err)
	}
	out := make([]*service.Event, 0, len(rows))
	for _, r := range rows {
		ev := &service.Event{
			ID:                r.ID,
			ServiceInstanceID: r.ServiceInstanceID,
			Kind:              service.EventKind(r.Kind),
			PreviousStatus:    service.Status(r.PreviousStatus),
			NewStatus:         service.Status(r.NewStatus),
			Description:       r.Description,
			Success:           r.Success,
			TriggeredBy:       r.TriggeredBy,
			TriggerKind:       service.TriggerKind(r.TriggerKind),
			OccurredAt:        r.OccurredAt,
		}
		if err := unmarshalInto(r.EventData, &ev.EventData); err != nil {
			return nil, fmt.Errorf("unmarshal event data: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}
