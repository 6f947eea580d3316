package service

import (
	"context"
	"time"

	"markui-go/internal/model"
	"markui-go/internal/store"
	"markui-go/pkg/log"
)

// SettingsService 接口定义了用户设置单例的读写操作。
// 设置是全局单例：首次读取时惰性创建缺省值。
type SettingsService interface {
	Get(ctx context.Context) (*model.UserSettings, error)
	Update(ctx context.Context, update *model.UserSettingsUpdate) (*model.UserSettings, error)
}

type settingsService struct {
	store store.Store
}

// NewSettingsService 创建一个新的 SettingsService 实例。
func NewSettingsService(s store.Store) SettingsService {
	return &settingsService{store: s}
}

// Get 读取设置单例，不存在时创建并持久化缺省设置。
func (s *settingsService) Get(ctx context.Context) (*model.UserSettings, error) {
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		log.Infof("[Get] 设置不存在，创建缺省设置")
		settings = model.DefaultUserSettings()
		if err := s.store.SaveSettings(ctx, settings); err != nil {
			return nil, err
		}
	}
	return settings, nil
}

// Update 对设置做部分更新：nil 字段保持原值，非 nil 字段覆盖。
// 空字符串是合法的覆盖值，用于清除已保存的 API Key。
func (s *settingsService) Update(ctx context.Context, update *model.UserSettingsUpdate) (*model.UserSettings, error) {
	settings, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}

	applyString(&settings.Theme, update.Theme)
	applyString(&settings.DefaultOutputFormat, update.DefaultOutputFormat)
	applyBool(&settings.DefaultUseLLM, update.DefaultUseLLM)
	applyString(&settings.DefaultLLMService, update.DefaultLLMService)
	applyBool(&settings.DefaultForceOCR, update.DefaultForceOCR)
	applyBool(&settings.DefaultFormatLines, update.DefaultFormatLines)
	applyString(&settings.GeminiAPIKey, update.GeminiAPIKey)
	applyString(&settings.OpenAIAPIKey, update.OpenAIAPIKey)
	applyString(&settings.ClaudeAPIKey, update.ClaudeAPIKey)
	applyString(&settings.OllamaBaseURL, update.OllamaBaseURL)
	applyString(&settings.OllamaModel, update.OllamaModel)
	applyString(&settings.OpenAIModel, update.OpenAIModel)
	applyString(&settings.OpenAIBaseURL, update.OpenAIBaseURL)
	applyString(&settings.ClaudeModelName, update.ClaudeModelName)
	applyString(&settings.VertexProjectID, update.VertexProjectID)
	if update.AdditionalSettings != nil {
		if settings.AdditionalSettings == nil {
			settings.AdditionalSettings = map[string]interface{}{}
		}
		for k, v := range update.AdditionalSettings {
			settings.AdditionalSettings[k] = v
		}
	}
	settings.UpdatedAt = time.Now().UTC()

	if err := s.store.SaveSettings(ctx, settings); err != nil {
		return nil, err
	}
	log.Infof("[Update] 设置已更新")
	return settings, nil
}

func applyString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func applyBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}
