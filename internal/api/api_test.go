package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/aerugo/bobavision/internal/config"
	"github.com/aerugo/bobavision/internal/events"
	"github.com/aerugo/bobavision/internal/library"
	"github.com/aerugo/bobavision/internal/models"
	"github.com/aerugo/bobavision/internal/selection"
	"github.com/aerugo/bobavision/internal/stats"
	"github.com/aerugo/bobavision/internal/store"
)

type testEnv struct {
	router   chi.Router
	store    *store.Store
	bus      *events.Bus
	mediaDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// A second :memory: connection would be a second empty database.
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&models.Device{},
		&models.Asset{},
		&models.QueueEntry{},
		&models.PlayRecord{},
		&models.BonusGrant{},
	)
	if err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	st := store.New(db, zerolog.Nop())
	bus := events.NewBus()
	engine := selection.New(st, bus, 3, zerolog.Nop())

	mediaDir := t.TempDir()
	cfg := &config.Config{
		LibraryRoots:   []string{mediaDir},
		FallbackPrefix: "fallback",
		StorageBackend: config.StorageFS,
		ScanWorkers:    2,
	}
	lib, err := library.NewService(cfg, st, bus, zerolog.Nop())
	if err != nil {
		t.Fatalf("library service: %v", err)
	}

	statsSvc := stats.New(st, nil, zerolog.Nop())
	h := NewHandler(st, engine, lib, statsSvc, nil, bus, 3, zerolog.Nop())

	r := chi.NewRouter()
	r.Mount("/api/v1", h.Routes())
	r.Get("/media/*", h.ServeMedia)

	return &testEnv{router: r, store: st, bus: bus, mediaDir: mediaDir}
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(dest); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error string `json:"error"`
	}
	decodeBody(t, rr, &resp)
	return resp.Error
}

func seedTestAsset(t *testing.T, env *testEnv, title, path, tags string, fallback bool) models.Asset {
	t.Helper()

	asset := models.Asset{
		ID:          uuid.NewString(),
		StoragePath: path,
		Title:       title,
		Tags:        models.NormalizeTags(tags),
		Fallback:    fallback,
	}
	if err := env.store.DB().Create(&asset).Error; err != nil {
		t.Fatalf("seed asset: %v", err)
	}
	return asset
}

func TestCreateDecisionEndpoint(t *testing.T) {
	env := newTestEnv(t)
	seedTestAsset(t, env, "Dino World", "shows/dino.mp4", "", false)
	seedTestAsset(t, env, "Quiet Clouds", "fallback/clouds.mp4", "", true)

	rr := env.do(t, "POST", "/api/v1/decisions", map[string]string{"device_id": "living-room"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Location       string `json:"location"`
		Title          string `json:"title"`
		Fallback       bool   `json:"fallback"`
		PlayID         string `json:"play_id"`
		Classification string `json:"classification"`
		PlaysToday     int    `json:"plays_today"`
	}
	decodeBody(t, rr, &resp)

	if resp.Location != "/media/shows/dino.mp4" {
		t.Fatalf("unexpected location %q", resp.Location)
	}
	if resp.Title != "Dino World" || resp.Fallback || resp.Classification != "random" {
		t.Fatalf("unexpected decision: %+v", resp)
	}
	if resp.PlayID == "" {
		t.Fatalf("expected a play id")
	}
	if resp.PlaysToday != 1 {
		t.Fatalf("expected plays_today 1, got %d", resp.PlaysToday)
	}

	var count int64
	if err := env.store.DB().Model(&models.PlayRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("count records: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 play record, got %d", count)
	}
}

func TestCreateDecisionValidation(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/api/v1/decisions", nil)
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "invalid_request" {
		t.Fatalf("expected 400 invalid_request for empty body, got %d %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, "POST", "/api/v1/decisions", map[string]string{"device_id": "   "})
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "invalid_request" {
		t.Fatalf("expected 400 invalid_request for blank device id, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestCreateDecisionEmptyLibrary(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/api/v1/decisions", map[string]string{"device_id": "living-room"})
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d body=%s", rr.Code, rr.Body.String())
	}
	if errorCode(t, rr) != "no_eligible_asset" {
		t.Fatalf("expected no_eligible_asset, got %s", rr.Body.String())
	}

	var count int64
	if err := env.store.DB().Model(&models.PlayRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("count records: %v", err)
	}
	if count != 0 {
		t.Fatalf("failed decision must not append a record, got %d", count)
	}
}

func TestCreateDecisionQuotaFallback(t *testing.T) {
	env := newTestEnv(t)
	seedTestAsset(t, env, "Dino World", "shows/dino.mp4", "", false)
	seedTestAsset(t, env, "Quiet Clouds", "fallback/clouds.mp4", "", true)

	rr := env.do(t, "POST", "/api/v1/devices", map[string]any{"id": "den", "daily_quota": 1})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create device: %d %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, "POST", "/api/v1/decisions", map[string]string{"device_id": "den"})
	if rr.Code != http.StatusOK {
		t.Fatalf("first decision: %d %s", rr.Code, rr.Body.String())
	}
	var first struct {
		Classification string `json:"classification"`
	}
	decodeBody(t, rr, &first)
	if first.Classification != "random" {
		t.Fatalf("expected random first, got %s", first.Classification)
	}

	rr = env.do(t, "POST", "/api/v1/decisions", map[string]string{"device_id": "den"})
	if rr.Code != http.StatusOK {
		t.Fatalf("second decision: %d %s", rr.Code, rr.Body.String())
	}
	var second struct {
		Classification string `json:"classification"`
		Fallback       bool   `json:"fallback"`
		Location       string `json:"location"`
	}
	decodeBody(t, rr, &second)
	if second.Classification != "fallback" || !second.Fallback {
		t.Fatalf("expected fallback past quota, got %+v", second)
	}
	if second.Location != "/media/fallback/clouds.mp4" {
		t.Fatalf("unexpected fallback location %q", second.Location)
	}
}

func TestCompletePlayEndpoint(t *testing.T) {
	env := newTestEnv(t)
	seedTestAsset(t, env, "Dino World", "shows/dino.mp4", "", false)

	rr := env.do(t, "POST", "/api/v1/decisions", map[string]string{"device_id": "living-room"})
	if rr.Code != http.StatusOK {
		t.Fatalf("decision: %d %s", rr.Code, rr.Body.String())
	}
	var decision struct {
		PlayID string `json:"play_id"`
	}
	decodeBody(t, rr, &decision)

	rr = env.do(t, "POST", "/api/v1/plays/"+decision.PlayID+"/complete", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("complete: %d %s", rr.Code, rr.Body.String())
	}

	var record models.PlayRecord
	if err := env.store.DB().First(&record, "id = ?", decision.PlayID).Error; err != nil {
		t.Fatalf("reload record: %v", err)
	}
	if !record.Completed {
		t.Fatalf("expected record to be completed")
	}

	rr = env.do(t, "POST", "/api/v1/plays/"+uuid.NewString()+"/complete", nil)
	if rr.Code != http.StatusNotFound || errorCode(t, rr) != "not_found" {
		t.Fatalf("expected 404 not_found, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestDeviceEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/api/v1/devices", map[string]any{
		"id":           "den",
		"name":         "Den Box",
		"daily_quota":  5,
		"allowed_tags": []string{"Trains", " DINOS "},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create device: %d %s", rr.Code, rr.Body.String())
	}
	var created struct {
		ID          string   `json:"id"`
		Name        string   `json:"name"`
		DailyQuota  int      `json:"daily_quota"`
		AllowedTags []string `json:"allowed_tags"`
	}
	decodeBody(t, rr, &created)
	if created.Name != "Den Box" || created.DailyQuota != 5 {
		t.Fatalf("unexpected device: %+v", created)
	}
	if len(created.AllowedTags) != 2 || created.AllowedTags[0] != "trains" || created.AllowedTags[1] != "dinos" {
		t.Fatalf("expected normalized tags, got %v", created.AllowedTags)
	}

	rr = env.do(t, "POST", "/api/v1/devices", map[string]any{"id": "den"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate id, got %d", rr.Code)
	}

	rr = env.do(t, "POST", "/api/v1/devices", map[string]any{"id": "attic", "daily_quota": 0})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero quota, got %d", rr.Code)
	}

	rr = env.do(t, "GET", "/api/v1/devices", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list devices: %d", rr.Code)
	}
	var list struct {
		Devices []struct {
			ID string `json:"id"`
		} `json:"devices"`
	}
	decodeBody(t, rr, &list)
	if len(list.Devices) != 1 || list.Devices[0].ID != "den" {
		t.Fatalf("unexpected device list: %+v", list.Devices)
	}

	rr = env.do(t, "PUT", "/api/v1/devices/den", map[string]any{"daily_quota": 2})
	if rr.Code != http.StatusOK {
		t.Fatalf("update device: %d %s", rr.Code, rr.Body.String())
	}
	var updated struct {
		DailyQuota int `json:"daily_quota"`
	}
	decodeBody(t, rr, &updated)
	if updated.DailyQuota != 2 {
		t.Fatalf("expected quota 2, got %d", updated.DailyQuota)
	}

	rr = env.do(t, "PUT", "/api/v1/devices/den", map[string]any{"daily_quota": 0})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero quota update, got %d", rr.Code)
	}

	rr = env.do(t, "GET", "/api/v1/devices/ghost", nil)
	if rr.Code != http.StatusNotFound || errorCode(t, rr) != "not_found" {
		t.Fatalf("expected 404 not_found, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestGrantBonusEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/api/v1/devices", map[string]any{"id": "den"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create device: %d", rr.Code)
	}

	rr = env.do(t, "POST", "/api/v1/devices/den/bonus", map[string]int{"count": 2})
	if rr.Code != http.StatusOK {
		t.Fatalf("grant bonus: %d %s", rr.Code, rr.Body.String())
	}
	var grant struct {
		BonusToday int `json:"bonus_today"`
	}
	decodeBody(t, rr, &grant)
	if grant.BonusToday != 2 {
		t.Fatalf("expected bonus_today 2, got %d", grant.BonusToday)
	}

	rr = env.do(t, "POST", "/api/v1/devices/den/bonus", map[string]int{"count": 1})
	if rr.Code != http.StatusOK {
		t.Fatalf("second grant: %d", rr.Code)
	}
	decodeBody(t, rr, &grant)
	if grant.BonusToday != 3 {
		t.Fatalf("grants must accumulate, got %d", grant.BonusToday)
	}

	rr = env.do(t, "POST", "/api/v1/devices/den/bonus", map[string]int{"count": 0})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero count, got %d", rr.Code)
	}

	rr = env.do(t, "POST", "/api/v1/devices/ghost/bonus", map[string]int{"count": 1})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown device, got %d", rr.Code)
	}
}

func TestQueueEndpoints(t *testing.T) {
	env := newTestEnv(t)
	assetA := seedTestAsset(t, env, "Trains", "shows/trains.mp4", "", false)
	assetB := seedTestAsset(t, env, "Dinos", "shows/dinos.mp4", "", false)

	rr := env.do(t, "POST", "/api/v1/devices", map[string]any{"id": "den"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create device: %d", rr.Code)
	}

	rr = env.do(t, "POST", "/api/v1/devices/den/queue", map[string]string{"asset_id": assetA.ID})
	if rr.Code != http.StatusCreated {
		t.Fatalf("append A: %d %s", rr.Code, rr.Body.String())
	}
	var entryA struct {
		EntryID  string `json:"entry_id"`
		Position int    `json:"position"`
	}
	decodeBody(t, rr, &entryA)
	if entryA.Position != 1 {
		t.Fatalf("expected position 1, got %d", entryA.Position)
	}

	rr = env.do(t, "POST", "/api/v1/devices/den/queue", map[string]string{"asset_id": assetB.ID})
	if rr.Code != http.StatusCreated {
		t.Fatalf("append B: %d", rr.Code)
	}
	var entryB struct {
		EntryID  string `json:"entry_id"`
		Position int    `json:"position"`
	}
	decodeBody(t, rr, &entryB)
	if entryB.Position != 2 {
		t.Fatalf("expected position 2, got %d", entryB.Position)
	}

	rr = env.do(t, "POST", "/api/v1/devices/den/queue", map[string]string{"asset_id": uuid.NewString()})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown asset, got %d", rr.Code)
	}

	var queue struct {
		Queue []struct {
			EntryID string `json:"entry_id"`
			Title   string `json:"title"`
		} `json:"queue"`
	}
	rr = env.do(t, "GET", "/api/v1/devices/den/queue", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list queue: %d", rr.Code)
	}
	decodeBody(t, rr, &queue)
	if len(queue.Queue) != 2 || queue.Queue[0].Title != "Trains" {
		t.Fatalf("unexpected queue: %+v", queue.Queue)
	}

	rr = env.do(t, "PUT", "/api/v1/devices/den/queue/reorder", map[string]any{
		"entry_ids": []string{entryB.EntryID},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("reorder: %d %s", rr.Code, rr.Body.String())
	}
	rr = env.do(t, "GET", "/api/v1/devices/den/queue", nil)
	decodeBody(t, rr, &queue)
	if queue.Queue[0].Title != "Dinos" || queue.Queue[1].Title != "Trains" {
		t.Fatalf("reorder not applied: %+v", queue.Queue)
	}

	rr = env.do(t, "DELETE", "/api/v1/devices/den/queue/"+entryA.EntryID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("remove entry: %d", rr.Code)
	}
	rr = env.do(t, "DELETE", "/api/v1/devices/den/queue/"+entryA.EntryID, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for removed entry, got %d", rr.Code)
	}

	rr = env.do(t, "POST", "/api/v1/devices/den/queue/clear", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("clear queue: %d", rr.Code)
	}
	rr = env.do(t, "GET", "/api/v1/devices/den/queue", nil)
	decodeBody(t, rr, &queue)
	if len(queue.Queue) != 0 {
		t.Fatalf("expected empty queue, got %+v", queue.Queue)
	}
}

func TestAssetEndpoints(t *testing.T) {
	env := newTestEnv(t)
	trains := seedTestAsset(t, env, "Trains", "shows/trains.mp4", "trains", false)
	seedTestAsset(t, env, "Dinos", "shows/dinos.mp4", "dinos", false)
	seedTestAsset(t, env, "Quiet Clouds", "fallback/clouds.mp4", "", true)

	rr := env.do(t, "GET", "/api/v1/assets", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list assets: %d", rr.Code)
	}
	var list struct {
		Total int `json:"total"`
	}
	decodeBody(t, rr, &list)
	if list.Total != 3 {
		t.Fatalf("expected 3 assets, got %d", list.Total)
	}

	rr = env.do(t, "GET", "/api/v1/assets?fallback=true", nil)
	decodeBody(t, rr, &list)
	if list.Total != 1 {
		t.Fatalf("expected 1 fallback asset, got %d", list.Total)
	}

	rr = env.do(t, "GET", "/api/v1/assets?tag=trains", nil)
	decodeBody(t, rr, &list)
	if list.Total != 1 {
		t.Fatalf("expected 1 tagged asset, got %d", list.Total)
	}

	rr = env.do(t, "GET", "/api/v1/assets?fallback=sometimes", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad fallback filter, got %d", rr.Code)
	}

	rr = env.do(t, "PUT", "/api/v1/assets/"+trains.ID, map[string]any{
		"title": "Trains Go Fast",
		"tags":  []string{"Trains", "vehicles"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("update asset: %d %s", rr.Code, rr.Body.String())
	}
	var updated struct {
		Title string   `json:"title"`
		Tags  []string `json:"tags"`
	}
	decodeBody(t, rr, &updated)
	if updated.Title != "Trains Go Fast" || len(updated.Tags) != 2 || updated.Tags[0] != "trains" {
		t.Fatalf("unexpected asset after update: %+v", updated)
	}

	rr = env.do(t, "PUT", "/api/v1/assets/"+trains.ID, map[string]any{"title": "  "})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank title, got %d", rr.Code)
	}

	rr = env.do(t, "DELETE", "/api/v1/assets/"+trains.ID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete asset: %d", rr.Code)
	}
	rr = env.do(t, "GET", "/api/v1/assets/"+trains.ID, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rr.Code)
	}
}

func TestScanEndpoint(t *testing.T) {
	env := newTestEnv(t)

	for _, rel := range []string{"shows/a.mp4", "fallback/calm.mp4"} {
		full := filepath.Join(env.mediaDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte("video-bytes"), 0o644); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}

	rr := env.do(t, "POST", "/api/v1/assets/scan", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("scan: %d %s", rr.Code, rr.Body.String())
	}
	var report struct {
		Scanned int `json:"scanned"`
		Added   int `json:"added"`
	}
	decodeBody(t, rr, &report)
	if report.Scanned != 2 || report.Added != 2 {
		t.Fatalf("unexpected scan report: %+v", report)
	}

	var fallbackCount int64
	err := env.store.DB().Model(&models.Asset{}).Where("fallback = ?", true).Count(&fallbackCount).Error
	if err != nil {
		t.Fatalf("count fallback: %v", err)
	}
	if fallbackCount != 1 {
		t.Fatalf("expected 1 fallback asset, got %d", fallbackCount)
	}
}

func TestStatsEndpoints(t *testing.T) {
	env := newTestEnv(t)
	seedTestAsset(t, env, "Dino World", "shows/dino.mp4", "", false)

	rr := env.do(t, "POST", "/api/v1/decisions", map[string]string{"device_id": "den"})
	if rr.Code != http.StatusOK {
		t.Fatalf("decision: %d", rr.Code)
	}

	rr = env.do(t, "GET", "/api/v1/stats", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("overview: %d", rr.Code)
	}
	var overview struct {
		TotalAssets  int64 `json:"total_assets"`
		TotalDevices int64 `json:"total_devices"`
		TotalPlays   int64 `json:"total_plays"`
		PlaysToday   int64 `json:"plays_today"`
	}
	decodeBody(t, rr, &overview)
	if overview.TotalAssets != 1 || overview.TotalDevices != 1 || overview.TotalPlays != 1 || overview.PlaysToday != 1 {
		t.Fatalf("unexpected overview: %+v", overview)
	}

	rr = env.do(t, "GET", "/api/v1/devices/den/stats", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("device stats: %d %s", rr.Code, rr.Body.String())
	}
	var summary struct {
		DeviceID       string `json:"device_id"`
		DailyQuota     int    `json:"daily_quota"`
		PlaysToday     int    `json:"plays_today"`
		PlaysRemaining int    `json:"plays_remaining"`
		RecentPlays    []struct {
			Title string `json:"title"`
		} `json:"recent_plays"`
	}
	decodeBody(t, rr, &summary)
	if summary.DeviceID != "den" || summary.DailyQuota != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.PlaysToday != 1 || summary.PlaysRemaining != 2 {
		t.Fatalf("unexpected quota math: %+v", summary)
	}
	if len(summary.RecentPlays) != 1 || summary.RecentPlays[0].Title != "Dino World" {
		t.Fatalf("unexpected recent plays: %+v", summary.RecentPlays)
	}

	rr = env.do(t, "GET", "/api/v1/devices/ghost/stats", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown device, got %d", rr.Code)
	}
}

func TestServeMedia(t *testing.T) {
	env := newTestEnv(t)

	full := filepath.Join(env.mediaDir, "shows", "Dino World.mp4")
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, []byte("boba"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	rr := env.do(t, "GET", "/media/shows/Dino%20World.mp4", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("serve media: %d %s", rr.Code, rr.Body.String())
	}
	if rr.Body.String() != "boba" {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "video/mp4" {
		t.Fatalf("unexpected content type %q", ct)
	}

	rr = env.do(t, "GET", "/media/shows/missing.mp4", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing file, got %d", rr.Code)
	}
}
