package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dotmac/ispsaga/domain/lifecycle"
	"github.com/dotmac/ispsaga/domain/subscriber"
)

// SubscriberStore is a Postgres-backed subscriber.Store. Writes made with
// an ambient *sqlx.Tx on ctx (via ContextWithTx) land in the caller's
// transaction, which is how a lifecycle-machine commit=false call composes
// with a service orchestrator write into one atomic unit.
type SubscriberStore struct {
	db *sqlx.DB
}

// NewSubscriberStore builds a SubscriberStore over db.
func NewSubscriberStore(db *sqlx.DB) *SubscriberStore {
	return &SubscriberStore{db: db}
}

var _ subscriber.Store = (*SubscriberStore)(nil)

type profileRow struct {
	TenantID            string       `db:"tenant_id"`
	SubscriberID        string       `db:"subscriber_id"`
	CircuitID           string       `db:"circuit_id"`
	RemoteID            string       `db:"remote_id"`
	ServiceVLAN         int          `db:"service_vlan"`
	CustomerVLAN        int          `db:"customer_vlan"`
	QinQEnabled         bool         `db:"qinq_enabled"`
	StaticIPv4Address   string       `db:"static_ipv4_address"`
	IPv4State           string       `db:"ipv4_state"`
	IPv4Address         string       `db:"ipv4_address"`
	IPv4NetboxID        string       `db:"ipv4_netbox_id"`
	IPv4AllocatedAt     sql.NullTime `db:"ipv4_allocated_at"`
	IPv4ActivatedAt     sql.NullTime `db:"ipv4_activated_at"`
	IPv4SuspendedAt     sql.NullTime `db:"ipv4_suspended_at"`
	IPv4RevokedAt       sql.NullTime `db:"ipv4_revoked_at"`
	IPv6AssignmentMode  string       `db:"ipv6_assignment_mode"`
	IPv6State           string       `db:"ipv6_state"`
	DelegatedIPv6Prefix string       `db:"delegated_ipv6_prefix"`
	IPv6PrefixLength    int          `db:"ipv6_prefix_length"`
	IPv6NetboxPrefixID  string       `db:"ipv6_netbox_prefix_id"`
	IPv6AllocatedAt     sql.NullTime `db:"ipv6_allocated_at"`
	IPv6ActivatedAt     sql.NullTime `db:"ipv6_activated_at"`
	IPv6SuspendedAt     sql.NullTime `db:"ipv6_suspended_at"`
	IPv6RevokedAt       sql.NullTime `db:"ipv6_revoked_at"`
	Option82Policy      string       `db:"option82_policy"`
	Metadata            []byte       `db:"metadata"`
	CreatedAt           time.Time    `db:"created_at"`
	UpdatedAt           time.Time    `db:"updated_at"`
	DeletedAt           sql.NullTime `db:"deleted_at"`
}

func toProfileRow(p *subscriber.Profile) (*profileRow, error) {
	meta, err := json.Marshal(orEmpty(p.Metadata))
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return &profileRow{
		TenantID:            p.TenantID,
		SubscriberID:        p.SubscriberID,
		CircuitID:           p.CircuitID,
		RemoteID:            p.RemoteID,
		ServiceVLAN:         p.ServiceVLAN,
		CustomerVLAN:        p.CustomerVLAN,
		QinQEnabled:         p.QinQEnabled,
		StaticIPv4Address:   p.StaticIPv4Address,
		IPv4State:           string(p.IPv4State),
		IPv4Address:         p.IPv4Address,
		IPv4NetboxID:        p.IPv4NetboxID,
		IPv4AllocatedAt:     timeToNull(p.IPv4AllocatedAt),
		IPv4ActivatedAt:     timeToNull(p.IPv4ActivatedAt),
		IPv4SuspendedAt:     timeToNull(p.IPv4SuspendedAt),
		IPv4RevokedAt:       timeToNull(p.IPv4RevokedAt),
		IPv6AssignmentMode:  string(p.IPv6AssignmentMode),
		IPv6State:           string(p.IPv6State),
		DelegatedIPv6Prefix: p.DelegatedIPv6Prefix,
		IPv6PrefixLength:    p.IPv6PrefixLength,
		IPv6NetboxPrefixID:  p.IPv6NetboxPrefixID,
		IPv6AllocatedAt:     timeToNull(p.IPv6AllocatedAt),
		IPv6ActivatedAt:     timeToNull(p.IPv6ActivatedAt),
		IPv6SuspendedAt:     timeToNull(p.IPv6SuspendedAt),
		IPv6RevokedAt:       timeToNull(p.IPv6RevokedAt),
		Option82Policy:      string(p.Option82Policy),
		Metadata:            meta,
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
		DeletedAt:           timeToNull(p.DeletedAt),
	}, nil
}

func (r *profileRow) toProfile() (*subscriber.Profile, error) {
	p := &subscriber.Profile{
		TenantID:            r.TenantID,
		SubscriberID:        r.SubscriberID,
		CircuitID:           r.CircuitID,
		RemoteID:            r.RemoteID,
		ServiceVLAN:         r.ServiceVLAN,
		CustomerVLAN:        r.CustomerVLAN,
		QinQEnabled:         r.QinQEnabled,
		StaticIPv4Address:   r.StaticIPv4Address,
		IPv4State:           lifecycle.State(r.IPv4State),
		IPv4Address:         r.IPv4Address,
		IPv4NetboxID:        r.IPv4NetboxID,
		IPv4AllocatedAt:     nullToTime(r.IPv4AllocatedAt),
		IPv4ActivatedAt:     nullToTime(r.IPv4ActivatedAt),
		IPv4SuspendedAt:     nullToTime(r.IPv4SuspendedAt),
		IPv4RevokedAt:       nullToTime(r.IPv4RevokedAt),
		IPv6AssignmentMode:  subscriber.IPv6AssignmentMode(r.IPv6AssignmentMode),
		IPv6State:           lifecycle.State(r.IPv6State),
		DelegatedIPv6Prefix: r.DelegatedIPv6Prefix,
		IPv6PrefixLength:    r.IPv6PrefixLength,
		IPv6NetboxPrefixID:  r.IPv6NetboxPrefixID,
		IPv6AllocatedAt:     nullToTime(r.IPv6AllocatedAt),
		IPv6ActivatedAt:     nullToTime(r.IPv6ActivatedAt),
		IPv6SuspendedAt:     nullToTime(r.IPv6SuspendedAt),
		IPv6RevokedAt:       nullToTime(r.IPv6RevokedAt),
		Option82Policy:      subscriber.Option82Policy(r.Option82Policy),
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
		DeletedAt:           nullToTime(r.DeletedAt),
	}
	if err := unmarshalInto(r.Metadata, &p.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return p, nil
}

func (s *SubscriberStore) Get(ctx context.Context, tenantID, subscriberID string) (*subscriber.Profile, error) {
	q := queryerFrom(ctx, s.db)
	var row profileRow
	query := `SELECT * FROM subscriber_network_profiles
		WHERE tenant_id = $1 AND subscriber_id = $2 AND deleted_at IS NULL`
	if err := q.GetContext(ctx, &row, query, tenantID, subscriberID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, subscriber.ErrProfileNotFound
		}
		return nil, fmt.Errorf("get subscriber profile: %w", err)
	}
	return row.toProfile()
}

const upsertProfileSQL = `
INSERT INTO subscriber_network_profiles (
	tenant_id, subscriber_id, circuit_id, remote_id, service_vlan, customer_vlan,
	qinq_enabled, static_ipv4_address, ipv4_state, ipv4_address, ipv4_netbox_id,
	ipv4_allocated_at, ipv4_activated_at, ipv4_suspended_at, ipv4_revoked_at,
	ipv6_assignment_mode, ipv6_state, delegated_ipv6_prefix, ipv6_prefix_length,
	ipv6_netbox_prefix_id, ipv6_allocated_at, ipv6_activated_at, ipv6_suspended_at,
	ipv6_revoked_at, option82_policy, metadata, created_at, updated_at, deleted_at
) VALUES (
	:tenant_id, :subscriber_id, :circuit_id, :remote_id, :service_vlan, :customer_vlan,
	:qinq_enabled, :static_ipv4_address, :ipv4_state, :ipv4_address, :ipv4_netbox_id,
	:ipv4_allocated_at, :ipv4_activated_at, :ipv4_suspended_at, :ipv4_revoked_at,
	:ipv6_assignment_mode, :ipv6_state, :delegated_ipv6_prefix, :ipv6_prefix_length,
	:ipv6_netbox_prefix_id, :ipv6_allocated_at, :ipv6_activated_at, :ipv6_suspended_at,
	:ipv6_revoked_at, :option82_policy, :metadata, :created_at, :updated_at, :deleted_at
)
ON CONFLICT (tenant_id, subscriber_id) DO UPDATE SET
	circuit_id = EXCLUDED.circuit_id, remote_id = EXCLUDED.remote_id,
	service_vlan = EXCLUDED.service_vlan, customer_vlan = EXCLUDED.customer_vlan,
	qinq_enabled = EXCLUDED.qinq_enabled, static_ipv4_address = EXCLUDED.static_ipv4_address,
	ipv4_state = EXCLUDED.ipv4_state, ipv4_address = EXCLUDED.ipv4_address,
	ipv4_netbox_id = EXCLUDED.ipv4_netbox_id, ipv4_allocated_at = EXCLUDED.ipv4_allocated_at,
	ipv4_activated_at = EXCLUDED.ipv4_activated_at, ipv4_suspended_at = EXCLUDED.ipv4_suspended_at,
	ipv4_revoked_at = EXCLUDED.ipv4_revoked_at, ipv6_assignment_mode = EXCLUDED.ipv6_assignment_mode,
	ipv6_state = EXCLUDED.ipv6_state, delegated_ipv6_prefix = EXCLUDED.delegated_ipv6_prefix,
	ipv6_prefix_length = EXCLUDED.ipv6_prefix_length, ipv6_netbox_prefix_id = EXCLUDED.ipv6_netbox_prefix_id,
	ipv6_allocated_at = EXCLUDED.ipv6_allocated_at, ipv6_activated_at = EXCLUDED.ipv6_activated_at,
	ipv6_suspended_at = EXCLUDED.ipv6_suspended_at, ipv6_revoked_at = EXCLUDED.ipv6_revoked_at,
	option82_policy = EXCLUDED.option82_policy, metadata = EXCLUDED.metadata,
	updated_at = EXCLUDED.updated_at, deleted_at = EXCLUDED.deleted_at`

func (s *SubscriberStore) Save(ctx context.Context, p *subscriber.Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	p.UpdatedAt = now
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	row, err := toProfileRow(p)
	if err != nil {
		return err
	}
	q := queryerFrom(ctx, s.db)
	if _, err := sqlx.NamedExecContext(ctx, q, upsertProfileSQL, row); err != nil {
		return fmt.Errorf("save subscriber profile: %w", err)
	}
	return nil
}

func (s *SubscriberStore) Delete(ctx context.Context, tenantID, subscriberID string) error {
	q := queryerFrom(ctx, s.db)
	query := `UPDATE subscriber_network_profiles SET deleted_at = $1
		WHERE tenant_id = $2 AND subscriber_id = $3 AND deleted_at IS NULL`
	res, err := q.ExecContext(ctx, query, time.Now().UTC(), tenantID, subscriberID)
	if err != nil {
		return fmt.Errorf("delete subscriber profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete subscriber profile rows affected: %w", err)
	}
	if n == 0 {
		return subscriber.ErrProfileNotFound
	}
	return nil
}
