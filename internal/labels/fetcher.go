package labels

import (
	"context"
	"encoding/json"

	"github.com/dynamicsmcp/fomcp/internal/odata"
	"github.com/dynamicsmcp/fomcp/internal/types"
)

// Action used to fetch label texts from the environment.
const (
	labelEntitySet = "SystemResourceLabels"
	labelAction    = "GetLabelTexts"
)

// ODataFetcher resolves labels through the environment's label action.
type ODataFetcher struct {
	client odata.Client
}

// NewODataFetcher binds a fetcher to an environment client.
func NewODataFetcher(client odata.Client) *ODataFetcher {
	return &ODataFetcher{client: client}
}

type labelText struct {
	LabelID string `json:"LabelId"`
	Text    string `json:"Text"`
}

type labelTextResponse struct {
	Value []labelText `json:"value"`
}

// FetchLabels implements Fetcher. Ids the environment does not know are
// simply absent from the result; that is a miss, not an error.
func (f *ODataFetcher) FetchLabels(ctx context.Context, ids []string, language string) (map[string]string, error) {
	params := map[string]any{
		"labelIds": ids,
		"language": language,
	}
	payload, err := f.client.CallAction(ctx, labelEntitySet, labelAction, params)
	if err != nil {
		return nil, err
	}

	var resp labelTextResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, types.WrapError(types.ErrParse, err, "decode label response")
	}
	out := make(map[string]string, len(resp.Value))
	for _, l := range resp.Value {
		if l.LabelID == "" || l.Text == "" {
			continue
		}
		out[l.LabelID] = l.Text
	}
	return out, nil
}
