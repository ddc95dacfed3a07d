package qb

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationConstruction(t *testing.T) {
	t.Run("create requires a payload", func(t *testing.T) {
		_, err := Create("Invoice", nil)
		require.Error(t, err)
		assert.Equal(t, KindValidation, KindOf(err))

		_, err = Create("", json.RawMessage(`{}`))
		assert.Equal(t, KindValidation, KindOf(err))
	})

	t.Run("update requires Id and SyncToken in the payload", func(t *testing.T) {
		_, err := Update("Invoice", json.RawMessage(`{"DocNumber":"1003"}`))
		require.Error(t, err)
		assert.Equal(t, KindValidation, KindOf(err))

		_, err = Update("Invoice", json.RawMessage(`{"Id":"129"}`))
		require.Error(t, err)
		assert.Equal(t, KindValidation, KindOf(err))

		op, err := Update("Invoice", json.RawMessage(`{"Id":"129","SyncToken":"0"}`))
		require.NoError(t, err)
		assert.Equal(t, "Invoice", op.Entity())
	})

	t.Run("delete requires id and sync token", func(t *testing.T) {
		_, err := Delete("Invoice", "129", "")
		require.Error(t, err)
		assert.Equal(t, KindValidation, KindOf(err))

		_, err = Delete("Invoice", "", "0")
		require.Error(t, err)
		assert.Equal(t, KindValidation, KindOf(err))

		_, err = Delete("Invoice", "129", "0")
		assert.NoError(t, err)
	})

	t.Run("query rejects negative max results", func(t *testing.T) {
		_, err := Query("Invoice", "", -1)
		require.Error(t, err)
		assert.Equal(t, KindValidation, KindOf(err))
	})
}

func TestOperationQueryString(t *testing.T) {
	op, err := Query("Invoice", "WHERE TotalAmt > '100.00'", 10)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM Invoice WHERE TotalAmt > '100.00' MAXRESULTS 10", op.QueryString())

	op, err = Query("Customer", "", 0)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM Customer", op.QueryString())
}

func TestOperationWire(t *testing.T) {
	t.Run("create posts to the entity resource", func(t *testing.T) {
		op, err := Create("Invoice", json.RawMessage(`{"DocNumber":"1003"}`))
		require.NoError(t, err)

		method, path, body, query := op.wire("123")
		assert.Equal(t, http.MethodPost, method)
		assert.Equal(t, "company/123/invoice", path)
		assert.NotNil(t, body)
		assert.Nil(t, query)
	})

	t.Run("delete posts a reference with operation=delete", func(t *testing.T) {
		op, err := Delete("Invoice", "129", "0")
		require.NoError(t, err)

		method, path, body, query := op.wire("123")
		assert.Equal(t, http.MethodPost, method)
		assert.Equal(t, "company/123/invoice", path)
		assert.Equal(t, entityRef{ID: "129", SyncToken: "0"}, body)
		assert.Equal(t, "delete", query["operation"])
	})

	t.Run("query is a GET with the statement as a parameter", func(t *testing.T) {
		op, err := Query("Invoice", "WHERE Balance > '0'", 5)
		require.NoError(t, err)

		method, path, body, query := op.wire("123")
		assert.Equal(t, http.MethodGet, method)
		assert.Equal(t, "company/123/query", path)
		assert.Nil(t, body)
		assert.Equal(t, "SELECT * FROM Invoice WHERE Balance > '0' MAXRESULTS 5", query["query"])
	})
}
