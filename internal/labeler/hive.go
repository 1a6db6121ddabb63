package labeler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

const hiveThreshold = 0.90

// hiveClasses maps Hive visual moderation classes to labels.
var hiveClasses = map[string]string{
	"yes_sexual_activity":        "porn",
	"animal_genitalia_and_human": "porn",
	"yes_realistic_nsfw":         "porn",
	"yes_sexual_intent":          "sexual",
	"yes_sex_toy":                "sexual",
	"yes_female_nudity":          "nudity",
	"yes_male_nudity":            "nudity",
	"very_bloody":                "gore",
	"human_corpse":               "corpse",
	"hanging":                    "corpse",
	"yes_self_harm":              "self-harm",
	"yes_nazi":                   "icon-nazi",
	"yes_kkk":                    "icon-kkk",
	"yes_confederate":            "icon-confederate",
	"yes_terrorist":              "icon-terrorist",
}

// HiveClassifier labels images through the Hive visual moderation API.
// Images are passed by URL, so the image endpoint must be reachable from
// Hive.
type HiveClassifier struct {
	apiKey   string
	endpoint string
	imageURL func(did, cid string) string
	client   *http.Client
}

func NewHiveClassifier(cfg Config, imageURL func(did, cid string) string) *HiveClassifier {
	return &HiveClassifier{
		apiKey:   cfg.HiveAPIKey,
		endpoint: cfg.HiveEndpoint,
		imageURL: imageURL,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing).
func (h *HiveClassifier) SetHTTPClient(client *http.Client) {
	h.client = client
}

func (h *HiveClassifier) Name() string { return "hive" }

func (h *HiveClassifier) Classify(ctx context.Context, s Subject) ([]string, error) {
	seen := make(map[string]struct{})
	for _, cid := range s.Images {
		labels, err := h.classifyImage(ctx, h.imageURL(s.DID, cid))
		if err != nil {
			return nil, err
		}
		for _, l := range labels {
			seen[l] = struct{}{}
		}
	}

	labels := make([]string, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels, nil
}

type hiveResponse struct {
	Status []struct {
		Response struct {
			Output []struct {
				Classes []struct {
					Class string  `json:"class"`
					Score float64 `json:"score"`
				} `json:"classes"`
			} `json:"output"`
		} `json:"response"`
	} `json:"status"`
}

func (h *HiveClassifier) classifyImage(ctx context.Context, imageURL string) ([]string, error) {
	form := url.Values{"url": {imageURL}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "token "+h.apiKey)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hive request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hive request failed with status: %d", resp.StatusCode)
	}

	var body hiveResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode hive response: %w", err)
	}

	var labels []string
	for _, st := range body.Status {
		for _, out := range st.Response.Output {
			for _, c := range out.Classes {
				if label, ok := hiveClasses[c.Class]; ok && c.Score >= hiveThreshold {
					labels = append(labels, label)
				}
			}
		}
	}
	return labels, nil
}

var _ Classifier = (*HiveClassifier)(nil)
