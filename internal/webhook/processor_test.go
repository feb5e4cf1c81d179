package webhook

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capliquify/capliquify-backend/internal/tenancy/repository"
	"github.com/capliquify/capliquify-backend/pkg/database"
	"github.com/capliquify/capliquify-backend/pkg/errors"
	"github.com/capliquify/capliquify-backend/pkg/logger"
	"github.com/capliquify/capliquify-backend/pkg/testutil"
)

func newTestProcessor(t *testing.T) (*Processor, *testutil.MockDB) {
	t.Helper()

	mockDB := testutil.NewMockDB(t)
	t.Cleanup(func() { mockDB.Close() })

	db := database.NewFromSqlx(mockDB.DB, logger.Nop())
	audit := repository.NewAuditRepository(db, logger.Nop())
	return NewProcessor(audit, logger.Nop()), mockDB
}

func TestProcessDispatchesToRegisteredHandler(t *testing.T) {
	p, _ := newTestProcessor(t)

	var got string
	p.Register(EventOrganizationCreated, func(ctx context.Context, data json.RawMessage) error {
		var org OrganizationData
		if err := json.Unmarshal(data, &org); err != nil {
			return err
		}
		got = org.ID
		return nil
	})

	payload := []byte(`{"type":"organization.created","data":{"id":"org_acme","name":"Acme","slug":"acme"}}`)
	require.NoError(t, p.Process(context.Background(), "msg_1", payload))
	assert.Equal(t, "org_acme", got)
}

func TestProcessIsIdempotentAcrossRedelivery(t *testing.T) {
	p, _ := newTestProcessor(t)

	calls := 0
	p.Register(EventOrganizationDeleted, func(ctx context.Context, data json.RawMessage) error {
		calls++
		return nil
	})

	payload := []byte(`{"type":"organization.deleted","data":{"id":"org_acme"}}`)
	require.NoError(t, p.Process(context.Background(), "msg_1", payload))
	require.NoError(t, p.Process(context.Background(), "msg_1", payload))
	assert.Equal(t, 2, calls)
}

func TestProcessAcksUnknownEventType(t *testing.T) {
	p, _ := newTestProcessor(t)

	payload := []byte(`{"type":"session.created","data":{}}`)
	assert.NoError(t, p.Process(context.Background(), "msg_1", payload))
}

func TestProcessRejectsMalformedPayload(t *testing.T) {
	p, _ := newTestProcessor(t)

	err := p.Process(context.Background(), "msg_1", []byte(`{not json`))
	assert.Error(t, err)
}

func TestProcessAuditsHandlerFailure(t *testing.T) {
	p, mockDB := newTestProcessor(t)

	p.Register(EventMembershipCreated, func(ctx context.Context, data json.RawMessage) error {
		return errors.Internal("directory unavailable")
	})

	mockDB.Mock.ExpectQuery(`INSERT INTO public.audit_logs`).
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now().UTC()))

	payload := []byte(`{"type":"organizationMembership.created","data":{}}`)
	err := p.Process(context.Background(), "msg_1", payload)
	require.Error(t, err)

	mockDB.ExpectationsWereMet(t)
}

func TestProcessRecoversFromHandlerPanic(t *testing.T) {
	p, mockDB := newTestProcessor(t)

	p.Register(EventOrganizationUpdated, func(ctx context.Context, data json.RawMessage) error {
		panic("boom")
	})

	mockDB.Mock.ExpectQuery(`INSERT INTO public.audit_logs`).
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now().UTC()))

	payload := []byte(`{"type":"organization.updated","data":{}}`)
	err := p.Process(context.Background(), "msg_1", payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	mockDB.ExpectationsWereMet(t)
}
