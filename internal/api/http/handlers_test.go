package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/notebook/internal/domain/cell"
	"github.com/GriffinCanCode/notebook/internal/domain/notebook"
	"github.com/GriffinCanCode/notebook/internal/execution"
	"github.com/GriffinCanCode/notebook/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/notebook/internal/sandbox"
)

type testAPI struct {
	router *gin.Engine
	nb     *notebook.Notebook
	store  *cell.Store
}

func setup(t *testing.T) testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := cell.NewStore("1 + 1")
	host := execution.NewHost(sandbox.NewInProcess(sandbox.DefaultConfig(), nil), execution.WithTimeout(2*time.Second))
	nb := notebook.New(notebook.Config{Store: store, Host: host})
	_, err := nb.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { nb.Close(context.Background()) })

	router := gin.New()
	NewHandlers(nb, "default", monitoring.NewMetrics(), nil).Register(router)
	return testAPI{router: router, nb: nb, store: store}
}

func (a testAPI) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	api := setup(t)

	w := api.do(t, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[map[string]interface{}](t, w)
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, float64(1), resp["cells"])
	assert.Equal(t, false, resp["running"])
	assert.Equal(t, "2s", resp["timeout"])
	assert.Contains(t, resp, "metrics")
}

func TestCellLifecycle(t *testing.T) {
	api := setup(t)
	first := api.store.SelectedID()

	w := api.do(t, "POST", "/cells", CreateCellRequest{AfterID: first, Code: "console.log('a')"})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[notebook.CellView](t, w)
	assert.Equal(t, "console.log('a')", created.Code)
	assert.Equal(t, cell.StatusIdle, created.Status)
	assert.True(t, created.Selected)

	w = api.do(t, "PUT", "/cells/"+created.ID+"/code", map[string]string{"code": "2 * 21"})
	require.Equal(t, http.StatusOK, w.Code)

	w = api.do(t, "GET", "/cells/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2 * 21", decode[notebook.CellView](t, w).Code)

	w = api.do(t, "GET", "/cells", nil)
	view := decode[notebook.View](t, w)
	require.Len(t, view.Cells, 2)
	assert.Equal(t, created.ID, view.SelectedID)

	w = api.do(t, "POST", "/cells/move", map[string]int{"from": 1, "to": 0})
	require.Equal(t, http.StatusOK, w.Code)
	view = decode[notebook.View](t, w)
	assert.Equal(t, created.ID, view.Cells[0].ID)
	assert.Equal(t, created.ID, view.SelectedID)

	w = api.do(t, "DELETE", "/cells/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, first, decode[map[string]interface{}](t, w)["selected_id"])

	w = api.do(t, "DELETE", "/cells/"+first, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, api.store.Len(), "the last cell is replaced, never removed")
}

func TestCreateWithoutBody(t *testing.T) {
	api := setup(t)

	w := api.do(t, "POST", "/cells", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "", decode[notebook.CellView](t, w).Code)
	assert.Equal(t, 2, api.store.Len())
}

func TestValidationErrors(t *testing.T) {
	api := setup(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{name: "unknown cell", method: "GET", path: "/cells/nope", want: http.StatusNotFound},
		{name: "invalid id", method: "GET", path: "/cells/a.b", want: http.StatusBadRequest},
		{name: "missing code", method: "PUT", path: "/cells/nope/code", body: map[string]string{}, want: http.StatusBadRequest},
		{name: "update unknown", method: "PUT", path: "/cells/nope/code", body: map[string]string{"code": "1"}, want: http.StatusNotFound},
		{name: "move out of range", method: "POST", path: "/cells/move", body: map[string]int{"from": 0, "to": 5}, want: http.StatusBadRequest},
		{name: "move missing to", method: "POST", path: "/cells/move", body: map[string]int{"from": 0}, want: http.StatusBadRequest},
		{name: "malformed json", method: "POST", path: "/cells", body: "{", want: http.StatusBadRequest},
		{name: "null byte code", method: "POST", path: "/cells", body: CreateCellRequest{Code: "a\x00"}, want: http.StatusBadRequest},
		{name: "delete unknown", method: "DELETE", path: "/cells/nope", want: http.StatusNotFound},
		{name: "run unknown", method: "POST", path: "/cells/nope/run", want: http.StatusNotFound},
		{name: "bad export format", method: "GET", path: "/export?format=xml", want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Contains(t, decode[map[string]interface{}](t, w), "error")
		})
	}
}

func TestSelectionAndFocus(t *testing.T) {
	api := setup(t)
	first := api.store.SelectedID()
	second := api.store.Create("", "")

	w := api.do(t, "POST", "/cells/"+first+"/select", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, first, api.store.SelectedID())

	w = api.do(t, "POST", "/selection/next", nil)
	resp := decode[map[string]interface{}](t, w)
	assert.Equal(t, true, resp["moved"])
	assert.Equal(t, second, resp["selected_id"])

	w = api.do(t, "POST", "/selection/next", nil)
	assert.Equal(t, false, decode[map[string]interface{}](t, w)["moved"])

	w = api.do(t, "POST", "/selection/prev", nil)
	assert.Equal(t, first, decode[map[string]interface{}](t, w)["selected_id"])

	w = api.do(t, "POST", "/cells/"+second+"/focus", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = api.do(t, "POST", "/focus/consume", nil)
	resp = decode[map[string]interface{}](t, w)
	assert.Equal(t, second, resp["cell_id"])
	assert.Equal(t, true, resp["ok"])

	w = api.do(t, "POST", "/focus/consume", nil)
	assert.Equal(t, false, decode[map[string]interface{}](t, w)["ok"])

	w = api.do(t, "POST", "/cells/"+first+"/focus", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, first, api.store.Focus())

	w = api.do(t, "DELETE", "/focus", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "", api.store.Focus())
	assert.Equal(t, first, api.store.SelectedID())

	w = api.do(t, "POST", "/focus/consume", nil)
	assert.Equal(t, false, decode[map[string]interface{}](t, w)["ok"])
}

func TestRunCell(t *testing.T) {
	api := setup(t)
	cellID := api.store.SelectedID()
	require.NoError(t, api.store.UpdateCode(cellID, `console.log("Hello, World!"); [1, "two"]`))

	w := api.do(t, "POST", "/cells/"+cellID+"/run", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Outcome execution.Outcome `json:"outcome"`
		Cell    notebook.CellView `json:"cell"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Outcome.Success)
	assert.Equal(t, cell.StatusSuccess, resp.Cell.Status)
	assert.Equal(t, `[1, "two"]`, resp.Cell.ResultText)
	require.Len(t, resp.Cell.Output, 1)
	assert.Equal(t, `"Hello, World!"`, resp.Cell.Output[0].Text)
}

func TestRunCellTornDown(t *testing.T) {
	api := setup(t)
	cellID := api.store.SelectedID()
	require.NoError(t, api.store.UpdateCode(cellID, "while (true) {}"))

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- api.do(t, "POST", "/cells/"+cellID+"/run", nil) }()
	require.Eventually(t, api.nb.Host().Busy, time.Second, time.Millisecond)

	// A second run of the same cell is refused while it is running
	w := api.do(t, "POST", "/cells/"+cellID+"/run", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = api.do(t, "POST", "/execution/teardown", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]interface{}](t, w)["was_running"])

	select {
	case w := <-done:
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), "CancelledError")
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after teardown")
	}

	c, _ := api.store.Get(cellID)
	assert.Equal(t, cell.StatusError, c.Status)
}

func TestExportImport(t *testing.T) {
	api := setup(t)

	doc := "id: default\ncells:\n  - id: abc\n    code: \"1+1\"\n  - id: def\n    code: \"2+2\"\n"
	w := api.do(t, "POST", "/import?format=yaml", doc)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	view := decode[notebook.View](t, w)
	require.Len(t, view.Cells, 2)
	assert.Equal(t, "abc", view.Cells[0].ID)

	w = api.do(t, "GET", "/export?format=toml", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/toml", w.Header().Get("Content-Type"))
	assert.True(t, strings.Contains(w.Body.String(), "abc"))

	w = api.do(t, "POST", "/import", `{"cells":[{"code":"no id"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, "POST", "/import", `{"cells":[{"id":"x","code":"1"},{"id":"x","code":"2"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 2, api.store.Len())
}
