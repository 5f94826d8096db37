package annotate

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/hazyhaar/blockreasons/safety"
	"github.com/hazyhaar/blockreasons/store"
)

// ModalID is the id of the modal overlay element. The page bridge removes
// any element with this id before inserting a new modal.
const ModalID = "br-modal-overlay"

var modalTmpl = template.Must(template.New("modal").Parse(`<div id="br-modal-overlay" class="br-overlay" data-token="{{.Token}}">
<div class="br-modal">
<h2 class="br-title">Why did you block <strong>@{{.Username}}</strong>?</h2>
{{- if .HasTweet}}
<div class="br-tweet{{if not .Matched}} br-tweet-unmatched{{end}}">
{{- if not .Matched}}
<p class="br-note">Captured post is by @{{.Author}}</p>
{{- end}}
<p class="br-tweet-text">{{.TweetText}}</p>
{{- if .Media}}
<span class="br-media">{{.Media}}</span>
{{- end}}
{{- if .TweetURL}}
<a class="br-link" href="{{.TweetURL}}">View post</a>
{{- end}}
</div>
{{- end}}
<div class="br-categories">
{{- range .Categories}}
<label class="br-category"><input type="{{$.InputType}}" name="br-category" value="{{.ID}}"> {{.Label}}</label>
{{- end}}
</div>
<textarea class="br-reason" rows="3" maxlength="500" placeholder="Reason (optional)"></textarea>
<div class="br-actions">
<button type="button" class="br-skip" data-action="skip">Skip</button>
<button type="button" class="br-save" data-action="save">Save</button>
</div>
</div>
</div>`))

type modalView struct {
	Token      string
	Username   string
	HasTweet   bool
	Matched    bool
	Author     string
	TweetText  string
	TweetURL   string
	Media      string
	Categories []store.Category
	InputType  string
}

// RenderModal renders the prompt markup for req, sanitized for injection.
func RenderModal(req Request) (string, error) {
	v := modalView{
		Token:      req.Token,
		Username:   req.Username,
		Categories: req.Categories,
		InputType:  "radio",
	}
	if req.MultiSelect {
		v.InputType = "checkbox"
	}
	if t := req.Tweet; t != nil {
		v.HasTweet = true
		v.Matched = req.Matched
		v.Author = t.AuthorUsername
		v.TweetText = t.Text
		v.TweetURL = t.URL
		v.Media = store.Deref(t.Media)
	}
	var buf bytes.Buffer
	if err := modalTmpl.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("annotate: render modal: %w", err)
	}
	return safety.Sanitize(buf.String()), nil
}
