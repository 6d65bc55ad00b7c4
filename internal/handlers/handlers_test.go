package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxxcyber/cart-reconcile/internal/config"
	"github.com/foxxcyber/cart-reconcile/internal/database"
	"github.com/foxxcyber/cart-reconcile/internal/middleware"
	"github.com/foxxcyber/cart-reconcile/internal/models"
	"github.com/foxxcyber/cart-reconcile/internal/reconcile"
	"github.com/foxxcyber/cart-reconcile/internal/services"
)

const (
	testSecret = "handler-test-secret"
	driverID   = 5
)

// fakeStore keeps orders and receipts in memory
type fakeStore struct {
	mu       sync.Mutex
	orders   []models.CandidateOrder
	drivers  map[int]int
	receipts map[int]*models.ReceiptWithLines
	nextID   int
	saved    map[int]models.MatchDebugInfo
	inferred map[int]*int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		drivers:  map[int]int{},
		receipts: map[int]*models.ReceiptWithLines{},
		saved:    map[int]models.MatchDebugInfo{},
		inferred: map[int]*int{},
		nextID:   1,
	}
}

func (s *fakeStore) addOrder(driver int, o models.CandidateOrder) {
	s.orders = append(s.orders, o)
	s.drivers[o.ID] = driver
}

func (s *fakeStore) ActiveOrdersForDriver(_ context.Context, id int, _ []string) ([]models.CandidateOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.CandidateOrder{}
	for _, o := range s.orders {
		if s.drivers[o.ID] == id && len(o.Items) > 0 {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *fakeStore) CandidateOrders(_ context.Context, driver int, ids []int) ([]models.CandidateOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.CandidateOrder{}
	for _, id := range ids {
		for _, o := range s.orders {
			if o.ID == id && s.drivers[o.ID] == driver {
				out = append(out, o)
			}
		}
	}
	return out, nil
}

func (s *fakeStore) RemoveOrderItems(_ context.Context, orderID int, removals []reconcile.ItemRemoval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for oi := range s.orders {
		o := &s.orders[oi]
		if o.ID != orderID {
			continue
		}
		for _, r := range removals {
			found := false
			for i := range o.Items {
				if o.Items[i].ItemID == r.ItemID {
					o.Items[i].Quantity = max(o.Items[i].Quantity-r.Quantity, 0)
					found = true
				}
			}
			if !found {
				return database.ErrOrderItemNotFound
			}
		}
		kept := o.Items[:0]
		for _, it := range o.Items {
			if it.Quantity > 0 {
				kept = append(kept, it)
			}
		}
		o.Items = kept
		return nil
	}
	return database.ErrOrderNotFound
}

func (s *fakeStore) CreateReceipt(_ context.Context, req *models.CreateReceiptRequest) (*models.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &models.ReceiptWithLines{Receipt: models.Receipt{
		ID:       s.nextID,
		UserID:   req.UserID,
		S3Bucket: req.S3Bucket,
		S3Key:    req.S3Key,
		Status:   models.ReceiptStatusPending,
	}, Lines: []models.ReceiptLine{}}
	s.nextID++
	s.receipts[r.ID] = r
	out := r.Receipt
	return &out, nil
}

func (s *fakeStore) GetReceipt(_ context.Context, id int) (*models.ReceiptWithLines, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[id]
	if !ok {
		return nil, database.ErrReceiptNotFound
	}
	out := *r
	out.Lines = append([]models.ReceiptLine{}, r.Lines...)
	return &out, nil
}

func (s *fakeStore) ReplaceReceiptLines(_ context.Context, id int, lines []models.ReceiptLine) ([]models.ReceiptLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[id]
	if !ok {
		return nil, database.ErrReceiptNotFound
	}
	saved := make([]models.ReceiptLine, len(lines))
	for i, ln := range lines {
		ln.ID, ln.ReceiptID = i+1, id
		saved[i] = ln
	}
	r.Lines = saved
	r.Status = models.ReceiptStatusDone
	return saved, nil
}

func (s *fakeStore) SaveReconciliation(_ context.Context, id int, inferred *int, debug models.MatchDebugInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.receipts[id]; !ok {
		return database.ErrReceiptNotFound
	}
	s.inferred[id] = inferred
	s.saved[id] = debug
	return nil
}

func (s *fakeStore) UpdateReceiptStatus(_ context.Context, id int, status models.ReceiptStatus, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[id]
	if !ok {
		return database.ErrReceiptNotFound
	}
	r.Status = status
	r.ErrorMessage = errMsg
	return nil
}

func (s *fakeStore) DeleteReceipt(_ context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.receipts[id]; !ok {
		return database.ErrReceiptNotFound
	}
	delete(s.receipts, id)
	return nil
}

// fakeImages records objects by key
type fakeImages struct {
	objects map[string][]byte
}

func (f *fakeImages) Bucket() string { return "receipts" }

func (f *fakeImages) Put(_ context.Context, key string, r io.Reader, size int64, contentType string) (*services.StoredObject, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f.objects[key] = b
	return &services.StoredObject{Bucket: "receipts", Key: key, Size: size, ContentType: contentType}, nil
}

func (f *fakeImages) PresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://s3.local/receipts/" + key + "?sig=x", nil
}

func (f *fakeImages) Remove(_ context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

type testEnv struct {
	app    *fiber.App
	store  *fakeStore
	images *fakeImages
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{
		JWTSecret:              testSecret,
		MaxUploadMB:            10,
		ActiveDeliveryStatuses: []string{"inprogress", "delivering"},
	}
	store := newFakeStore()
	images := &fakeImages{objects: map[string][]byte{}}
	engine := reconcile.NewEngine(cfg.EngineOptions(), zerolog.Nop())

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	New(store, images, engine, cfg, zerolog.Nop()).Register(app)

	return &testEnv{app: app, store: store, images: images}
}

func token(t *testing.T, userID int, role models.Role) string {
	t.Helper()
	tok, err := middleware.IssueToken(testSecret, userID, role, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

func (e *testEnv) do(t *testing.T, method, path, auth, body string) (int, APIResponse) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	return e.send(t, req)
}

func (e *testEnv) send(t *testing.T, req *http.Request) (int, APIResponse) {
	t.Helper()
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out APIResponse
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

// decodeData re-decodes the untyped Data field into v
func decodeData(t *testing.T, resp APIResponse, v any) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}

func bananaOrder() models.CandidateOrder {
	return models.CandidateOrder{
		ID:     42,
		Status: "delivering",
		Items: []models.OrderLineItem{
			{OrderID: 42, ItemID: 7, Name: "Bananas", Quantity: 3},
			{OrderID: 42, ItemID: 8, Name: "Whole Milk", Quantity: 1},
		},
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, err := env.app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestDriverRoutes_Auth(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.do(t, "GET", "/api/driver/orders", "", "")
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = env.do(t, "GET", "/api/driver/orders", token(t, driverID, models.RoleCustomer), "")
	assert.Equal(t, fiber.StatusForbidden, status)
}

func TestGetActiveOrders(t *testing.T) {
	env := newTestEnv(t)
	env.store.addOrder(driverID, bananaOrder())
	env.store.addOrder(99, models.CandidateOrder{ID: 43, Items: []models.OrderLineItem{{ItemID: 1, Name: "Eggs", Quantity: 1}}})

	status, resp := env.do(t, "GET", "/api/driver/orders", token(t, driverID, models.RoleDelivery), "")
	require.Equal(t, fiber.StatusOK, status)

	var orders []models.CandidateOrder
	decodeData(t, resp, &orders)
	require.Len(t, orders, 1)
	assert.Equal(t, 42, orders[0].ID)
}

func TestRemoveItems(t *testing.T) {
	env := newTestEnv(t)
	env.store.addOrder(driverID, bananaOrder())
	auth := token(t, driverID, models.RoleDelivery)

	status, resp := env.do(t, "POST", "/api/driver/removals", auth,
		`{"lines":[{"name":"organic bananas","quantity":2},{"name":"dragonfruit","quantity":"lots"}]}`)
	require.Equal(t, fiber.StatusOK, status)

	var result models.RemovalResult
	decodeData(t, resp, &result)
	assert.True(t, result.OK)
	assert.Equal(t, []int{42}, result.OrdersChanged)
	require.Len(t, result.Decisions, 2)
	assert.True(t, result.Decisions[0].Resolved)
	assert.Equal(t, 7, *result.Decisions[0].ItemID)
	assert.False(t, result.Decisions[1].Resolved)
	assert.Equal(t, models.ReasonNoMatch, result.Decisions[1].Reason)

	assert.Equal(t, 1.0, env.store.orders[0].Items[0].Quantity)
}

func TestRemoveItems_NoActiveOrders(t *testing.T) {
	env := newTestEnv(t)

	status, resp := env.do(t, "POST", "/api/driver/removals", token(t, driverID, models.RoleBoth),
		`{"lines":[{"name":"bananas","quantity":1}]}`)
	require.Equal(t, fiber.StatusOK, status)

	var result models.RemovalResult
	decodeData(t, resp, &result)
	assert.False(t, result.OK)
	assert.Equal(t, models.ReasonNoActiveOrders, result.Reason)
}

func TestRemoveItems_ZeroQuantity(t *testing.T) {
	env := newTestEnv(t)
	env.store.addOrder(driverID, bananaOrder())

	status, resp := env.do(t, "POST", "/api/driver/removals", token(t, driverID, models.RoleDelivery),
		`{"lines":[{"name":"bananas","quantity":0}]}`)
	require.Equal(t, fiber.StatusOK, status)

	var result models.RemovalResult
	decodeData(t, resp, &result)
	assert.True(t, result.OK)
	assert.Empty(t, result.OrdersChanged)
	require.Len(t, result.Decisions, 1)
	assert.Equal(t, models.ReasonZeroQuantity, result.Decisions[0].Reason)
	assert.Equal(t, 3.0, env.store.orders[0].Items[0].Quantity)
}

func TestRemoveItems_BadBody(t *testing.T) {
	env := newTestEnv(t)
	auth := token(t, driverID, models.RoleDelivery)

	status, _ := env.do(t, "POST", "/api/driver/removals", auth, `{"lines":`)
	assert.Equal(t, fiber.StatusBadRequest, status)

	long := strings.Repeat("x", 300)
	status, resp := env.do(t, "POST", "/api/driver/removals", auth, `{"lines":[{"name":"`+long+`"}]}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, map[string]string{"Lines[0].Name": "max"}, resp.Fields)
}

func uploadRequest(t *testing.T, auth, filename, contentType string, body []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, filename))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(body)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/api/receipts/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", auth)
	return req
}

func TestUploadReceipt(t *testing.T) {
	env := newTestEnv(t)
	auth := token(t, driverID, models.RoleDelivery)

	status, resp := env.send(t, uploadRequest(t, auth, "receipt.png", "image/png", []byte("png-bytes")))
	require.Equal(t, fiber.StatusCreated, status)

	var receipt models.Receipt
	decodeData(t, resp, &receipt)
	assert.Equal(t, driverID, receipt.UserID)
	assert.True(t, strings.HasPrefix(receipt.S3Key, "receipts/5/"))
	assert.Equal(t, []byte("png-bytes"), env.images.objects[receipt.S3Key])

	status, _ = env.send(t, uploadRequest(t, auth, "receipt.gif", "image/gif", []byte("gif")))
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func seedReceipt(t *testing.T, env *testEnv, owner int) int {
	t.Helper()
	r, err := env.store.CreateReceipt(context.Background(), &models.CreateReceiptRequest{
		UserID: owner, S3Bucket: "receipts", S3Key: "receipts/x.jpg",
	})
	require.NoError(t, err)
	return r.ID
}

func TestReceiptAccess(t *testing.T) {
	env := newTestEnv(t)
	id := seedReceipt(t, env, 77)
	auth := token(t, driverID, models.RoleDelivery)

	status, _ := env.do(t, "GET", fmt.Sprintf("/api/receipts/%d", id), auth, "")
	assert.Equal(t, fiber.StatusForbidden, status)

	status, resp := env.do(t, "GET", "/api/receipts/999", auth, "")
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.False(t, resp.Success)
	assert.Equal(t, "receipt not found", resp.Error)

	status, _ = env.do(t, "GET", "/api/receipts/abc", auth, "")
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = env.do(t, "GET", fmt.Sprintf("/api/receipts/%d", id), token(t, 1, models.RoleAdmin), "")
	assert.Equal(t, fiber.StatusOK, status)
}

func TestReceiptFlow(t *testing.T) {
	env := newTestEnv(t)
	env.store.addOrder(driverID, models.CandidateOrder{
		ID: 1,
		Items: []models.OrderLineItem{
			{OrderID: 1, ItemID: 100, Name: "milk", Quantity: 1},
			{OrderID: 1, ItemID: 101, Name: "bananas", Quantity: 2},
		},
	})
	env.store.addOrder(driverID, models.CandidateOrder{
		ID:    2,
		Items: []models.OrderLineItem{{OrderID: 2, ItemID: 200, Name: "milk", Quantity: 5}},
	})
	id := seedReceipt(t, env, driverID)
	auth := token(t, driverID, models.RoleDelivery)
	base := fmt.Sprintf("/api/receipts/%d", id)

	extraction := "```json\n" + `{"store":{"name":"Corner Market"},"items":[
		{"name":"2% milk","quantity":2},
		{"name":"bananas","quantity":"3"},
		{"name":"gum","quantity":null}
	]}` + "\n```"
	status, _ := env.do(t, "PUT", base+"/lines", auth, extraction)
	require.Equal(t, fiber.StatusOK, status)

	status, resp := env.do(t, "POST", base+"/edits", auth, `{"operations":[{"op":"remove","name":"GUM"},{"op":"explode"}]}`)
	require.Equal(t, fiber.StatusOK, status)
	var edited struct {
		Lines    []models.ReceiptLine    `json:"lines"`
		Outcomes []reconcile.EditOutcome `json:"outcomes"`
	}
	decodeData(t, resp, &edited)
	assert.Len(t, edited.Lines, 2)
	require.Len(t, edited.Outcomes, 2)
	assert.True(t, edited.Outcomes[0].Applied)
	assert.Equal(t, reconcile.ReasonUnrecognized, edited.Outcomes[1].Reason)

	status, resp = env.do(t, "POST", base+"/reconcile", auth, "")
	require.Equal(t, fiber.StatusOK, status)
	var result models.Reconciliation
	decodeData(t, resp, &result)

	assert.Equal(t, []int{1}, result.Coverage.FullMatches)
	assert.Equal(t, []int{2}, result.Coverage.PartialMatches)
	require.Contains(t, env.store.saved, id)
	assert.Equal(t, []models.InsufficientItem{
		{ItemID: 200, Name: "milk", RequiredQuantity: 5, ReceiptQuantity: 2},
	}, env.store.saved[id][2].InsufficientQuantityItems)

	status, resp = env.do(t, "POST", base+"/reconcile", auth, `{"order_ids":[2]}`)
	require.Equal(t, fiber.StatusOK, status)
	decodeData(t, resp, &result)
	assert.Empty(t, result.Coverage.FullMatches)
	assert.Equal(t, []int{2}, result.Coverage.PartialMatches)

	status, _ = env.do(t, "POST", base+"/reconcile", auth, `{"order_ids":[-1]}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestReconcileReceipt_ForeignOrder(t *testing.T) {
	env := newTestEnv(t)
	env.store.addOrder(driverID, bananaOrder())
	env.store.addOrder(99, models.CandidateOrder{
		ID:    43,
		Items: []models.OrderLineItem{{OrderID: 43, ItemID: 1, Name: "Eggs", Quantity: 12}},
	})
	id := seedReceipt(t, env, driverID)
	auth := token(t, driverID, models.RoleDelivery)
	base := fmt.Sprintf("/api/receipts/%d", id)

	status, _ := env.do(t, "PUT", base+"/lines", auth, `{"items":[{"name":"eggs","quantity":12}]}`)
	require.Equal(t, fiber.StatusOK, status)

	for _, body := range []string{`{"order_ids":[43]}`, `{"order_ids":[42,43]}`, `{"order_ids":[777]}`} {
		status, resp := env.do(t, "POST", base+"/reconcile", auth, body)
		assert.Equal(t, fiber.StatusNotFound, status, body)
		assert.Nil(t, resp.Data, body)
	}
	assert.NotContains(t, env.store.saved, id)
	assert.NotContains(t, env.store.inferred, id)

	status, _ = env.do(t, "POST", base+"/reconcile", auth, `{"order_ids":[42]}`)
	assert.Equal(t, fiber.StatusOK, status)
}

func TestReplaceReceiptLines_Unreadable(t *testing.T) {
	env := newTestEnv(t)
	id := seedReceipt(t, env, driverID)

	status, _ := env.do(t, "PUT", fmt.Sprintf("/api/receipts/%d/lines", id), token(t, driverID, models.RoleDelivery), `"nothing here"`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, models.ReceiptStatusError, env.store.receipts[id].Status)
}

func TestReceiptImageAndDelete(t *testing.T) {
	env := newTestEnv(t)
	id := seedReceipt(t, env, driverID)
	env.images.objects["receipts/x.jpg"] = []byte("jpg")
	auth := token(t, driverID, models.RoleDelivery)
	base := fmt.Sprintf("/api/receipts/%d", id)

	status, resp := env.do(t, "GET", base+"/image", auth, "")
	require.Equal(t, fiber.StatusOK, status)
	var img map[string]string
	decodeData(t, resp, &img)
	assert.Contains(t, img["url"], "receipts/x.jpg")

	status, _ = env.do(t, "DELETE", base, auth, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.NotContains(t, env.images.objects, "receipts/x.jpg")
	assert.NotContains(t, env.store.receipts, id)
}
