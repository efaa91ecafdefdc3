package llm

import (
	"fmt"
	"net/url"
	"strings"
)

// AuthScheme is how a vendor expects the API key to be presented.
type AuthScheme string

const (
	AuthBearer      AuthScheme = "bearer"
	AuthKeyInURL    AuthScheme = "key_in_url"
	AuthSignatureV3 AuthScheme = "signature_v3"
)

// Shape names the request/response format family of a vendor.
type Shape string

const (
	ShapeOpenAI     Shape = "openai"
	ShapeVolcengine Shape = "volcengine"
	ShapeTencent    Shape = "tencent"
	ShapeGemini     Shape = "gemini"
)

// ServiceInfo is the extra routing data signature-authenticated vendors need.
type ServiceInfo struct {
	Service string
	Region  string
	Version string
	Action  string
	Host    string
}

// Descriptor is the static description of one AI vendor.
type Descriptor struct {
	ID          string
	DisplayName string
	Endpoint    string
	Auth        AuthScheme
	Shape       Shape
	Service     *ServiceInfo
}

var registry = []Descriptor{
	{ID: "volcengine", DisplayName: "火山引擎 (推荐)", Endpoint: "https://ark.cn-beijing.volces.com/api/v3/chat/completions", Auth: AuthBearer, Shape: ShapeVolcengine},
	{ID: "moonshot", DisplayName: "月之暗面", Endpoint: "https://api.moonshot.cn/v1/chat/completions", Auth: AuthBearer, Shape: ShapeOpenAI},
	{ID: "zhipu", DisplayName: "智谱清言", Endpoint: "https://open.bigmodel.cn/api/paas/v4/chat/completions", Auth: AuthBearer, Shape: ShapeOpenAI},
	{ID: "aliyun", DisplayName: "阿里通义千问", Endpoint: "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions", Auth: AuthBearer, Shape: ShapeOpenAI},
	{ID: "baidu", DisplayName: "百度文心千帆", Endpoint: "https://qianfan.baidubce.com/v2/chat/completions", Auth: AuthBearer, Shape: ShapeOpenAI},
	{
		ID:          "tencent",
		DisplayName: "腾讯混元",
		Endpoint:    "https://hunyuan.tencentcloudapi.com/",
		Auth:        AuthSignatureV3,
		Shape:       ShapeTencent,
		Service: &ServiceInfo{
			Service: "hunyuan",
			Region:  "ap-guangzhou",
			Version: "2023-09-01",
			Action:  "ChatCompletions",
			Host:    "hunyuan.tencentcloudapi.com",
		},
	},
	{ID: "openrouter", DisplayName: "OpenRouter", Endpoint: "https://openrouter.ai/api/v1/chat/completions", Auth: AuthBearer, Shape: ShapeOpenAI},
	{ID: "openai", DisplayName: "OpenAI", Endpoint: "https://api.openai.com/v1/chat/completions", Auth: AuthBearer, Shape: ShapeOpenAI},
	{ID: "gemini", DisplayName: "Google Gemini", Endpoint: "https://generativelanguage.googleapis.com/v1beta/models/{model}:generateContent", Auth: AuthKeyInURL, Shape: ShapeGemini},
}

// Lookup finds a provider by id. Ids are matched case-insensitively.
func Lookup(id string) (Descriptor, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, d := range registry {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}

// MustLookup is Lookup for ids known at compile time.
func MustLookup(id string) Descriptor {
	d, ok := Lookup(id)
	if !ok {
		panic(fmt.Sprintf("llm: unknown provider %q", id))
	}
	return d
}

// Providers lists every registered vendor in display order.
func Providers() []Descriptor {
	out := make([]Descriptor, len(registry))
	copy(out, registry)
	return out
}

// ProviderIDFromDisplayName maps a UI label (or an id) to a provider id.
func ProviderIDFromDisplayName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if d, ok := Lookup(name); ok {
		return d.ID, true
	}
	for _, d := range registry {
		if d.DisplayName == name {
			return d.ID, true
		}
	}
	return "", false
}

// requestURL renders the final URL for a call. endpoint may be an override of d.Endpoint.
func (d Descriptor) requestURL(endpoint, model, key string) string {
	if endpoint == "" {
		endpoint = d.Endpoint
	}
	if d.Auth != AuthKeyInURL {
		return endpoint
	}
	u := strings.ReplaceAll(endpoint, "{model}", url.PathEscape(model))
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "key=" + url.QueryEscape(key)
}
