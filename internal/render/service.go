package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"image/color"
	"io"
	"net/http"
	"time"
)

const htmlTpl = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
  body { margin: 0; }
  .canvas { position: relative; width: {{.Width}}px; height: {{.Height}}px; background: {{css .Background}}; overflow: hidden; font-family: 'Go', 'Segoe UI', Arial, sans-serif; }
  .rect { position: absolute; }
  .text { position: absolute; white-space: nowrap; line-height: 1; }
</style>
</head>
<body>
<div class="canvas">
{{range .Rects}}  <div class="rect" style="left: {{.X}}px; top: {{.Y}}px; width: {{.W}}px; height: {{.H}}px; background: {{css .Color}};"></div>
{{end}}{{range .Texts}}  <div class="text" style="{{position .}} font-size: {{.Size}}px; color: {{css .Color}};{{if .Bold}} font-weight: 700;{{end}}">{{.Value}}</div>
{{end}}</div>
</body>
</html>
`

var pageTemplate = template.Must(template.New("certificate").Funcs(template.FuncMap{
	"css": func(c color.RGBA) template.CSS {
		return template.CSS(fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B))
	},
	"position": func(t Text) template.CSS {
		// Y is a baseline; the box top sits one font size above it.
		top := float64(t.Y) - t.Size
		switch t.Align {
		case AlignCenter:
			return template.CSS(fmt.Sprintf("left: %dpx; top: %.0fpx; transform: translateX(-50%%);", t.X, top))
		case AlignRight:
			return template.CSS(fmt.Sprintf("right: %dpx; top: %.0fpx;", Width-t.X, top))
		default:
			return template.CSS(fmt.Sprintf("left: %dpx; top: %.0fpx;", t.X, top))
		}
	},
}).Parse(htmlTpl))

// HTML renders the layout as an absolutely positioned page so an external
// renderer produces the same geometry as the canvas backend.
func HTML(l Layout) (string, error) {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, l); err != nil {
		return "", fmt.Errorf("failed to execute certificate template: %w", err)
	}
	return buf.String(), nil
}

// ServiceRasterizer posts the HTML page to an HTML-to-image service and
// expects the PNG in the response body.
type ServiceRasterizer struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewServiceRasterizer(endpoint, apiKey string, timeout time.Duration) *ServiceRasterizer {
	return &ServiceRasterizer{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

type renderRequest struct {
	HTML   string `json:"html"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Type   string `json:"type"`
}

func (r *ServiceRasterizer) Rasterize(ctx context.Context, l Layout) ([]byte, error) {
	page, err := HTML(l)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(renderRequest{HTML: page, Width: l.Width, Height: l.Height, Type: "png"})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/png")
	if r.apiKey != "" {
		req.Header.Set("api-key", r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call render service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("render service returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered image: %w", err)
	}
	if !bytes.HasPrefix(out, pngSignature) {
		return nil, fmt.Errorf("render service did not return a png")
	}
	return out, nil
}
