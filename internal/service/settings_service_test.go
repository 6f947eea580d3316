package service

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"markui-go/internal/config"
	"markui-go/internal/model"
	"markui-go/internal/store"
)

func newSettingsFixture(t *testing.T) (SettingsService, store.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := store.New(rdb, config.StorageConfig{DocumentTTLHours: 24, JobTTLHours: 48})
	return NewSettingsService(st), st
}

func TestSettingsGetCreatesDefaults(t *testing.T) {
	svc, st := newSettingsFixture(t)
	ctx := context.Background()

	settings, err := svc.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if settings.Theme != "light" {
		t.Errorf("theme = %q, want light", settings.Theme)
	}
	if settings.DefaultOutputFormat != model.FormatMarkdown {
		t.Errorf("default format = %q", settings.DefaultOutputFormat)
	}

	// 惰性创建后必须已持久化
	stored, err := st.GetSettings(ctx)
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if stored == nil {
		t.Fatal("defaults were not persisted")
	}
}

func TestSettingsPartialUpdate(t *testing.T) {
	svc, _ := newSettingsFixture(t)
	ctx := context.Background()

	key := "AIzaSy-test"
	useLLM := true
	updated, err := svc.Update(ctx, &model.UserSettingsUpdate{
		GeminiAPIKey:  &key,
		DefaultUseLLM: &useLLM,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.GeminiAPIKey != key || !updated.DefaultUseLLM {
		t.Errorf("update not applied: %+v", updated)
	}
	// 未提交的字段保持缺省
	if updated.Theme != "light" || updated.DefaultOutputFormat != model.FormatMarkdown {
		t.Errorf("untouched fields changed: theme=%q format=%q", updated.Theme, updated.DefaultOutputFormat)
	}

	// 第二次更新不影响第一次写入的字段
	theme := "dark"
	again, err := svc.Update(ctx, &model.UserSettingsUpdate{Theme: &theme})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if again.Theme != "dark" || again.GeminiAPIKey != key {
		t.Errorf("partial update clobbered earlier values: %+v", again)
	}
}

func TestSettingsEmptyStringClearsKey(t *testing.T) {
	svc, _ := newSettingsFixture(t)
	ctx := context.Background()

	key := "sk-test"
	if _, err := svc.Update(ctx, &model.UserSettingsUpdate{OpenAIAPIKey: &key}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	empty := ""
	cleared, err := svc.Update(ctx, &model.UserSettingsUpdate{OpenAIAPIKey: &empty})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if cleared.OpenAIAPIKey != "" {
		t.Errorf("empty string must clear the key, got %q", cleared.OpenAIAPIKey)
	}
}

func TestSettingsAdditionalSettingsMerge(t *testing.T) {
	svc, _ := newSettingsFixture(t)
	ctx := context.Background()

	if _, err := svc.Update(ctx, &model.UserSettingsUpdate{
		AdditionalSettings: map[string]interface{}{"sidebar": "collapsed", "rows": 25},
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	merged, err := svc.Update(ctx, &model.UserSettingsUpdate{
		AdditionalSettings: map[string]interface{}{"rows": 50},
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if merged.AdditionalSettings["sidebar"] != "collapsed" {
		t.Errorf("merge dropped existing key: %v", merged.AdditionalSettings)
	}
	if merged.AdditionalSettings["rows"] != 50 {
		t.Errorf("rows = %v, want 50", merged.AdditionalSettings["rows"])
	}
}
