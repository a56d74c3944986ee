package vectorstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// WeaviateIndex stores vectors in one multi-tenant class. Each namespace maps
// to its own tenant, so isolation is enforced by the server's tenant shards.
type WeaviateIndex struct {
	client *weaviate.Client
	class  string
}

func NewWeaviateIndex(rawURL, apiKey, name string) (*WeaviateIndex, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid weaviate url %q", rawURL)
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "http"
	}
	cfg := weaviate.Config{Host: u.Host, Scheme: scheme}
	if apiKey != "" {
		cfg.AuthConfig = auth.ApiKey{Value: apiKey}
	}
	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return &WeaviateIndex{client: client, class: className(name)}, nil
}

// className maps an index name such as "conversation-history" to a valid
// Weaviate class name ("ConversationHistory").
func className(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var b strings.Builder
	for _, p := range parts {
		runes := []rune(p)
		runes[0] = unicode.ToUpper(runes[0])
		b.WriteString(string(runes))
	}
	out := b.String()
	if out == "" || !unicode.IsLetter([]rune(out)[0]) {
		out = "Conversation" + out
	}
	return out
}

// tenantName maps a namespace to a Weaviate tenant. Tenant names must match
// [A-Za-z0-9_-]{1,64} while user ids are free text, so the id is hashed and
// the raw value is kept in the user_id property.
func tenantName(namespace string) string {
	sum := sha256.Sum256([]byte(namespace))
	return "u" + hex.EncodeToString(sum[:])[:40]
}

func (w *WeaviateIndex) EnsureSchema(ctx context.Context) error {
	if _, err := w.client.Schema().ClassGetter().WithClassName(w.class).Do(ctx); err == nil {
		return nil
	}
	filterable := true
	class := &models.Class{
		Class:       w.class,
		Description: "Conversation turns, one tenant per user.",
		Vectorizer:  "none",
		VectorIndexConfig: map[string]any{
			"distance": "cosine",
		},
		MultiTenancyConfig: &models.MultiTenancyConfig{
			Enabled:            true,
			AutoTenantCreation: true,
		},
		Properties: []*models.Property{
			{Name: "user_id", DataType: []string{"text"}, IndexFilterable: &filterable, Tokenization: "field"},
			{Name: "user_prompt", DataType: []string{"text"}, IndexFilterable: &filterable, Tokenization: "field"},
			{Name: "ai_response", DataType: []string{"text"}, IndexFilterable: &filterable, Tokenization: "field"},
			{Name: "timestamp", DataType: []string{"number"}, IndexFilterable: &filterable},
		},
	}
	if err := w.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create weaviate class %s: %w", w.class, err)
	}
	return nil
}

func (w *WeaviateIndex) Upsert(ctx context.Context, namespace string, rec Record) error {
	if err := requireNamespace(namespace); err != nil {
		return err
	}
	props := map[string]any{
		"user_id":     namespace,
		"user_prompt": rec.Metadata.UserPrompt,
		"ai_response": rec.Metadata.AIResponse,
		"timestamp":   rec.Metadata.Timestamp.UnixMilli(),
	}

	exists, err := w.client.Data().Checker().
		WithClassName(w.class).
		WithID(rec.ID).
		WithTenant(tenantName(namespace)).
		Do(ctx)
	if err == nil && exists {
		err = w.client.Data().Updater().
			WithClassName(w.class).
			WithID(rec.ID).
			WithProperties(props).
			WithVector(rec.Vector).
			WithTenant(tenantName(namespace)).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("weaviate update: %w", err)
		}
		return nil
	}

	_, err = w.client.Data().Creator().
		WithClassName(w.class).
		WithID(rec.ID).
		WithProperties(props).
		WithVector(rec.Vector).
		WithTenant(tenantName(namespace)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate create: %w", err)
	}
	return nil
}

type weaviateHit struct {
	UserPrompt string  `json:"user_prompt"`
	AIResponse string  `json:"ai_response"`
	Timestamp  float64 `json:"timestamp"`
	Additional struct {
		ID       string   `json:"id"`
		Distance *float64 `json:"distance"`
	} `json:"_additional"`
}

func (w *WeaviateIndex) Query(ctx context.Context, namespace string, req QueryRequest) ([]Match, error) {
	if err := requireNamespace(namespace); err != nil {
		return nil, err
	}
	fields := []graphql.Field{
		{Name: "user_prompt"},
		{Name: "ai_response"},
		{Name: "timestamp"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "distance"}}},
	}
	q := w.client.GraphQL().Get().
		WithClassName(w.class).
		WithTenant(tenantName(namespace)).
		WithFields(fields...)
	if req.TopK > 0 {
		q = q.WithLimit(req.TopK)
	}
	if req.Vector != nil {
		q = q.WithNearVector(w.client.GraphQL().NearVectorArgBuilder().WithVector(req.Vector))
	}
	if where := weaviateWhere(req.Filter); where != nil {
		q = q.WithWhere(where)
	}

	resp, err := q.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate query: %w", err)
	}
	if err := graphQLError(resp); err != nil {
		if isMissingTenant(err) {
			return []Match{}, nil
		}
		return nil, err
	}

	var parsed struct {
		Get map[string][]weaviateHit `json:"Get"`
	}
	if err := decodeGraphQL(resp, &parsed); err != nil {
		return nil, err
	}
	hits := parsed.Get[w.class]
	out := make([]Match, 0, len(hits))
	for _, h := range hits {
		m := Match{
			ID: h.Additional.ID,
			Metadata: Metadata{
				UserPrompt: h.UserPrompt,
				AIResponse: h.AIResponse,
				Timestamp:  time.UnixMilli(int64(h.Timestamp)).UTC(),
			},
		}
		if h.Additional.Distance != nil {
			m.Score = 1 - *h.Additional.Distance
		}
		out = append(out, m)
	}
	return out, nil
}

func (w *WeaviateIndex) Delete(ctx context.Context, namespace string, filter Filter) (int, error) {
	if err := requireNamespace(namespace); err != nil {
		return 0, err
	}
	where := weaviateWhere(filter)
	if where == nil {
		// The batch deleter requires a filter; match every object instead.
		where = filters.Where().
			WithPath([]string{"user_prompt"}).
			WithOperator(filters.Like).
			WithValueText("*")
	}
	resp, err := w.client.Batch().ObjectsBatchDeleter().
		WithClassName(w.class).
		WithTenant(tenantName(namespace)).
		WithOutput("minimal").
		WithWhere(where).
		Do(ctx)
	if err != nil {
		if isMissingTenant(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("weaviate delete: %w", err)
	}
	if resp == nil || resp.Results == nil {
		return 0, nil
	}
	return int(resp.Results.Successful), nil
}

func (w *WeaviateIndex) Count(ctx context.Context, namespace string) (int, error) {
	if err := requireNamespace(namespace); err != nil {
		return 0, err
	}
	resp, err := w.client.GraphQL().Aggregate().
		WithClassName(w.class).
		WithTenant(tenantName(namespace)).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("weaviate aggregate: %w", err)
	}
	if err := graphQLError(resp); err != nil {
		if isMissingTenant(err) {
			return 0, nil
		}
		return 0, err
	}

	var parsed struct {
		Aggregate map[string][]struct {
			Meta struct {
				Count int `json:"count"`
			} `json:"meta"`
		} `json:"Aggregate"`
	}
	if err := decodeGraphQL(resp, &parsed); err != nil {
		return 0, err
	}
	rows := parsed.Aggregate[w.class]
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Meta.Count, nil
}

func (w *WeaviateIndex) Close() error { return nil }

func weaviateWhere(f Filter) *filters.WhereBuilder {
	var ops []*filters.WhereBuilder
	if f.UserPrompt != "" {
		ops = append(ops, filters.Where().
			WithPath([]string{"user_prompt"}).
			WithOperator(filters.Equal).
			WithValueText(f.UserPrompt))
	}
	if f.AIResponse != "" {
		ops = append(ops, filters.Where().
			WithPath([]string{"ai_response"}).
			WithOperator(filters.Equal).
			WithValueText(f.AIResponse))
	}
	switch len(ops) {
	case 0:
		return nil
	case 1:
		return ops[0]
	default:
		return filters.Where().WithOperator(filters.And).WithOperands(ops)
	}
}

func graphQLError(resp *models.GraphQLResponse) error {
	if resp == nil {
		return fmt.Errorf("nil graphql response")
	}
	if len(resp.Errors) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(resp.Errors))
	for _, e := range resp.Errors {
		if e != nil {
			msgs = append(msgs, e.Message)
		}
	}
	return fmt.Errorf("weaviate graphql: %s", strings.Join(msgs, "; "))
}

func decodeGraphQL(resp *models.GraphQLResponse, target any) error {
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return fmt.Errorf("marshal graphql data: %w", err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode graphql data: %w", err)
	}
	return nil
}

// A tenant only exists after its first write.
func isMissingTenant(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "tenant") && strings.Contains(msg, "not found")
}
