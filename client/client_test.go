package client

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"escrowd/core"
	"escrowd/crypto"
	"escrowd/native/escrow"
	"escrowd/rpc"
	"escrowd/storage"
)

type fakeCall struct {
	method string
	params interface{}
}

type fakeTransport struct {
	calls   []fakeCall
	results map[string]interface{}
	errs    map[string]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		results: make(map[string]interface{}),
		errs:    make(map[string]error),
	}
}

func (f *fakeTransport) Call(_ context.Context, method string, params interface{}, out interface{}) error {
	f.calls = append(f.calls, fakeCall{method: method, params: params})
	if err, ok := f.errs[method]; ok {
		return err
	}
	if result, ok := f.results[method]; ok && out != nil {
		switch dst := out.(type) {
		case *agreementWire:
			*dst = result.(agreementWire)
		case *listWire:
			*dst = result.(listWire)
		case *balanceWire:
			*dst = result.(balanceWire)
		}
	}
	return nil
}

func (f *fakeTransport) methods() []string {
	out := make([]string, 0, len(f.calls))
	for _, call := range f.calls {
		out = append(out, call.method)
	}
	return out
}

const testIdentity = "esc1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq0ji2a8"

func TestCreateAgreementReservesThenRegisters(t *testing.T) {
	transport := newFakeTransport()
	transport.results["escrow_register"] = agreementWire{
		ID:     "0xabc",
		Amount: "2500000",
		Status: "PENDING",
	}
	c, err := New(transport, testIdentity, nil)
	require.NoError(t, err)

	conf, err := c.CreateAgreement(context.Background(), "esc1provider", "2.5", "design work")
	require.NoError(t, err)
	require.Equal(t, []string{"escrow_reserve", "escrow_register"}, transport.methods())
	require.Equal(t, "0xabc", conf.AgreementID)
	require.NotEmpty(t, conf.Handle)

	params, ok := transport.calls[0].params.(map[string]string)
	require.True(t, ok)
	require.Equal(t, "2500000", params["amount"])
	require.Equal(t, testIdentity, params["client"])
}

func TestCreateAgreementUnreservesOnRejection(t *testing.T) {
	transport := newFakeTransport()
	transport.errs["escrow_register"] = fmt.Errorf("provider equals client: %w", escrow.ErrInvalidProvider)
	c, err := New(transport, testIdentity, nil)
	require.NoError(t, err)

	_, err = c.CreateAgreement(context.Background(), testIdentity, "1", "")
	require.ErrorIs(t, err, escrow.ErrInvalidProvider)
	require.Equal(t, []string{"escrow_reserve", "escrow_register", "escrow_unreserve"}, transport.methods())
}

func TestCreateAgreementLeavesReservationOnTransportFailure(t *testing.T) {
	transport := newFakeTransport()
	transport.errs["escrow_register"] = fmt.Errorf("%w: escrow_register: timeout", ErrTransport)
	c, err := New(transport, testIdentity, nil)
	require.NoError(t, err)

	_, err = c.CreateAgreement(context.Background(), "esc1provider", "1", "")
	require.ErrorIs(t, err, ErrTransport)
	// The registration outcome is unknown, so the reservation must not be
	// returned automatically.
	require.Equal(t, []string{"escrow_reserve", "escrow_register"}, transport.methods())
}

func TestCreateAgreementRejectsBadAmountLocally(t *testing.T) {
	transport := newFakeTransport()
	c, err := New(transport, testIdentity, nil)
	require.NoError(t, err)

	_, err = c.CreateAgreement(context.Background(), "esc1provider", "-3", "")
	require.Error(t, err)
	require.Empty(t, transport.calls)
}

func TestGetStatus(t *testing.T) {
	transport := newFakeTransport()
	transport.results["escrow_get"] = agreementWire{ID: "0xabc", Amount: "1000000", Status: "ACTIVE"}
	c, err := New(transport, testIdentity, nil)
	require.NoError(t, err)

	status, err := c.GetStatus(context.Background(), "0xabc")
	require.NoError(t, err)
	require.Equal(t, "ACTIVE", status)
}

func TestClientAgainstDaemon(t *testing.T) {
	clientKey, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	providerKey, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	clientAddr := clientKey.PubKey().Address()
	providerAddr := providerKey.PubKey().Address()

	alloc := map[string]*big.Int{clientAddr.String(): big.NewInt(10_000_000)}
	node, err := core.NewNode(storage.NewMemDB(), alloc, nil)
	require.NoError(t, err)
	server := httptest.NewServer(rpc.NewServer(node, "integration-token", 1000, 1000, nil))
	defer server.Close()

	transport := NewRPCTransport(server.URL, "integration-token")
	clientSide, err := New(transport, clientAddr.String(), nil)
	require.NoError(t, err)
	providerSide, err := New(transport, providerAddr.String(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	conf, err := clientSide.CreateAgreement(ctx, providerAddr.String(), "7.25", "translation")
	require.NoError(t, err)
	require.NotEmpty(t, conf.AgreementID)

	status, err := clientSide.GetStatus(ctx, conf.AgreementID)
	require.NoError(t, err)
	require.Equal(t, "PENDING", status)

	accepted, err := providerSide.Accept(ctx, conf.AgreementID)
	require.NoError(t, err)
	require.Equal(t, "ACTIVE", accepted.Status)

	// Only the funding party may release.
	_, err = providerSide.Release(ctx, conf.AgreementID)
	require.ErrorIs(t, err, escrow.ErrNotAuthorized)

	released, err := clientSide.Release(ctx, conf.AgreementID)
	require.NoError(t, err)
	require.Equal(t, "COMPLETED", released.Status)
	require.Equal(t, "7.25", released.Amount)

	balance, err := providerSide.GetBalance(ctx)
	require.NoError(t, err)
	require.Equal(t, "7.25", balance.Balance)

	listed, err := clientSide.ListAgreements(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, conf.AgreementID, listed[0].ID)
	require.Equal(t, "COMPLETED", listed[0].Status)
	require.Equal(t, "7250000", listed[0].AmountUnits)

	// A second release must surface the state conflict.
	_, err = clientSide.Release(ctx, conf.AgreementID)
	require.ErrorIs(t, err, escrow.ErrInvalidState)
}

func TestTransportErrorOnUnreachableDaemon(t *testing.T) {
	transport := NewRPCTransport("http://127.0.0.1:1", "token")
	c, err := New(transport, testIdentity, nil)
	require.NoError(t, err)

	_, err = c.GetStatus(context.Background(), "0xabc")
	require.True(t, errors.Is(err, ErrTransport))
}
