package banner

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/hazyhaar/blockreasons/safety"
	"github.com/hazyhaar/blockreasons/store"
)

// ID is the id of the banner element.
const ID = "br-banner"

var bannerTmpl = template.Must(template.New("banner").Parse(`<div id="br-banner" class="br-banner">
<div class="br-banner-content">
<div class="br-banner-header">
<strong>You blocked @{{.Username}}</strong>
{{- range .Labels}}
<span class="br-banner-category">{{.}}</span>
{{- end}}
<span class="br-banner-date">on {{.Date}}</span>
</div>
{{- if or .Tweet .Media}}
<div class="br-banner-tweet-container">
{{- if .Tweet}}
<p class="br-banner-tweet">&#34;{{.Tweet}}&#34;</p>
{{- end}}
{{- if .Media}}
<span class="br-banner-media">Contains: {{.Media}}</span>
{{- end}}
<div class="br-banner-links">
{{- if .TweetURL}}
<a class="br-banner-link" href="{{.TweetURL}}">View tweet</a>
{{- end}}
{{- if .ArchiveURL}}
<a class="br-banner-link" href="{{.ArchiveURL}}">View archived</a>
{{- end}}
</div>
</div>
{{- end}}
{{- if .Reason}}
<p class="br-banner-reason">{{.Reason}}</p>
{{- end}}
</div>
<button type="button" class="br-banner-close" data-action="close">×</button>
</div>`))

type bannerView struct {
	Username   string
	Labels     []string
	Date       string
	Tweet      string
	Media      string
	TweetURL   string
	ArchiveURL string
	Reason     string
}

// Render returns the sanitized banner markup for rec. labels maps category
// ids to display labels; unknown ids are shown as-is.
func Render(rec store.BlockRecord, labels map[string]string) (string, error) {
	v := bannerView{
		Username:   rec.Username,
		Date:       rec.Date.Local().Format("Jan 2, 2006"),
		Tweet:      store.Deref(rec.Tweet),
		Media:      store.Deref(rec.TweetMedia),
		TweetURL:   store.Deref(rec.TweetURL),
		ArchiveURL: store.Deref(rec.TweetArchiveURL),
		Reason:     rec.Reason,
	}
	for _, id := range rec.Categories {
		if l, ok := labels[id]; ok {
			v.Labels = append(v.Labels, l)
		} else {
			v.Labels = append(v.Labels, id)
		}
	}
	var buf bytes.Buffer
	if err := bannerTmpl.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("banner: render: %w", err)
	}
	return safety.Sanitize(buf.String()), nil
}
