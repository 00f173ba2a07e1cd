package service

import (
	"context"
	"strings"
	"time"

	"marketai-go/internal/generation"
	"marketai-go/internal/model"
	"marketai-go/pkg/apperr"
	"marketai-go/pkg/llm"
	"marketai-go/pkg/log"
)

// GenerationService 对三个文案工具各做一次网关往返并解析结果。
type GenerationService interface {
	GenerateAds(ctx context.Context, userID uint, req model.AdsRequest) (*model.AdsResult, error)
	GenerateSEO(ctx context.Context, userID uint, req model.SEORequest) (*model.SEOResult, error)
	GenerateSocial(ctx context.Context, userID uint, req model.SocialRequest) (*model.SocialResult, error)
}

type generationService struct {
	llmClient llm.Client
	usage     UsageRecorder
}

// NewGenerationService 创建一个新的 GenerationService；usage 为 nil 时不记录用量。
func NewGenerationService(llmClient llm.Client, usage UsageRecorder) GenerationService {
	if usage == nil {
		usage = nopRecorder{}
	}
	return &generationService{llmClient: llmClient, usage: usage}
}

func requireField(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return apperr.Newf(apperr.KindValidation, "%s is required", name)
	}
	return nil
}

func parseTone(s string) (model.Tone, error) {
	tone, err := model.ParseTone(s)
	if err != nil {
		return "", apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}
	return tone, nil
}

func (s *generationService) complete(ctx context.Context, tool model.ToolType, system, user string) (string, error) {
	reply, err := s.llmClient.Complete(ctx, []llm.Message{llm.System(system), llm.User(user)}, nil)
	if err != nil {
		log.Warnw("generation failed", "tool", tool, "kind", apperr.KindOf(err), "error", err)
		return "", err
	}
	return reply, nil
}

func logDegraded(tool model.ToolType, reply string) {
	log.Warnw("ParseDegraded", "tool", tool, "replyLength", len(reply))
}

// record 在网关调用结束后写一条用量事件，校验失败的请求不计入。
func (s *generationService) record(ctx context.Context, userID uint, tool model.ToolType, tone model.Tone, start time.Time, degraded bool, err error) {
	outcome := model.GenerationOutcomeOK
	if err != nil {
		outcome = string(apperr.KindOf(err))
	}
	s.usage.RecordGeneration(ctx, model.GenerationEvent{
		UserID:    userID,
		ToolType:  tool,
		Tone:      tone,
		Outcome:   outcome,
		Degraded:  degraded,
		LatencyMs: time.Since(start).Milliseconds(),
	})
}

func (s *generationService) GenerateAds(ctx context.Context, userID uint, req model.AdsRequest) (*model.AdsResult, error) {
	if err := requireField("productDescription", req.ProductDescription); err != nil {
		return nil, err
	}
	tone, err := parseTone(req.Tone)
	if err != nil {
		return nil, err
	}
	log.Infof("Generating Google Ads with tone %s", tone)

	start := time.Now()
	reply, err := s.complete(ctx, model.ToolAds,
		generation.AdsSystemPrompt(tone),
		generation.AdsUserPrompt(req.ProductDescription, req.TargetAudience))
	if err != nil {
		s.record(ctx, userID, model.ToolAds, tone, start, false, err)
		return nil, err
	}

	ad, degraded := generation.ParseAdCopy(reply)
	if degraded {
		logDegraded(model.ToolAds, reply)
	}
	s.record(ctx, userID, model.ToolAds, tone, start, degraded, nil)
	return &model.AdsResult{AdCopy: reply, Headlines: ad.Headlines, Descriptions: ad.Descriptions}, nil
}

func (s *generationService) GenerateSEO(ctx context.Context, userID uint, req model.SEORequest) (*model.SEOResult, error) {
	if err := requireField("topic", req.Topic); err != nil {
		return nil, err
	}
	tone, err := parseTone(req.Tone)
	if err != nil {
		return nil, err
	}
	log.Infof("Generating SEO keywords with tone %s", tone)

	start := time.Now()
	reply, err := s.complete(ctx, model.ToolSEO, generation.SEOSystemPrompt(tone), generation.SEOUserPrompt(req.Topic))
	if err != nil {
		s.record(ctx, userID, model.ToolSEO, tone, start, false, err)
		return nil, err
	}

	keywords, degraded := generation.ParseKeywords(reply)
	if degraded {
		logDegraded(model.ToolSEO, reply)
	}
	s.record(ctx, userID, model.ToolSEO, tone, start, degraded, nil)
	return &model.SEOResult{Keywords: keywords}, nil
}

func (s *generationService) GenerateSocial(ctx context.Context, userID uint, req model.SocialRequest) (*model.SocialResult, error) {
	if err := requireField("description", req.Description); err != nil {
		return nil, err
	}
	tone, err := parseTone(req.Tone)
	if err != nil {
		return nil, err
	}
	log.Infof("Generating social captions with tone %s", tone)

	start := time.Now()
	reply, err := s.complete(ctx, model.ToolSocial, generation.SocialSystemPrompt(tone), generation.SocialUserPrompt(req.Description))
	if err != nil {
		s.record(ctx, userID, model.ToolSocial, tone, start, false, err)
		return nil, err
	}

	captions, degraded := generation.ParseCaptions(reply)
	if degraded {
		logDegraded(model.ToolSocial, reply)
	}
	s.record(ctx, userID, model.ToolSocial, tone, start, degraded, nil)
	return &model.SocialResult{Captions: reply, CaptionList: captions}, nil
}
