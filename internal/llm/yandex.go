package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Morwran/yagpt"
)

// YandexProvider calls YandexGPT. The IAM token is exchanged from the OAuth
// token on first use so a bad token fails the call, not the process.
type YandexProvider struct {
	oauthToken string
	folderID   string

	mu       sync.Mutex
	ya       yagpt.YaGPTFace
	iamToken string
}

func NewYandexProvider(oauthToken, folderID string) *YandexProvider {
	return &YandexProvider{
		oauthToken: strings.TrimSpace(oauthToken),
		folderID:   strings.TrimSpace(folderID),
	}
}

func (p *YandexProvider) Name() string { return "yandex" }

func (p *YandexProvider) Generate(ctx context.Context, prompt string) (string, error) {
	ya, iamToken, err := p.session()
	if err != nil {
		return "", wrapErr(p.Name(), 0, err)
	}

	resp, err := ya.CompletionWithCtx(ctx, iamToken, []yagpt.Message{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return "", wrapErr(p.Name(), 0, fmt.Errorf("yagpt completion: %w", err))
	}
	if resp == nil || len(resp.Alternatives) == 0 {
		return "", wrapErr(p.Name(), 0, ErrEmptyResponse)
	}
	text := strings.TrimSpace(resp.Alternatives[0].Message.Content)
	if text == "" {
		return "", wrapErr(p.Name(), 0, ErrEmptyResponse)
	}
	return text, nil
}

// TODO: refresh the IAM token before its 12h expiry instead of keeping it for the process lifetime.
func (p *YandexProvider) session() (yagpt.YaGPTFace, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ya != nil && p.iamToken != "" {
		return p.ya, p.iamToken, nil
	}

	iam, err := yagpt.NewYaIam(p.oauthToken)
	if err != nil {
		return nil, "", fmt.Errorf("init yandex iam: %w", err)
	}
	tok, err := iam.Create()
	if err != nil {
		return nil, "", fmt.Errorf("create iam token: %w", err)
	}
	ya, err := yagpt.NewYagpt(p.folderID)
	if err != nil {
		return nil, "", fmt.Errorf("init yagpt: %w", err)
	}
	p.ya = ya
	p.iamToken = tok.IamToken
	return p.ya, p.iamToken, nil
}
