package ajaxstub

import (
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/net/html"
)

// handleEditPage serves a minimal download edit screen: one repeatable row
// per fixture value, each with a button that rewrites the input the way the
// repository browser does, without dispatching events.
func (s *Server) handleEditPage(w http.ResponseWriter, _ *http.Request) {
	var b strings.Builder
	b.WriteString(`<!doctype html><html><head><meta charset="utf-8"><title>Edit Download</title></head><body>
<form id="post"><div id="edd_download_files">
`)
	for i, v := range s.fx.Rows {
		val := html.EscapeString(v)
		fmt.Fprintf(&b, `<div class="edd_repeatable_row edd-repeatable-row-standard-fields" data-key="%d">
  <div class="edd_repeatable_upload_wrapper">
    <div class="edd_repeatable_upload_field_container">
      <input type="text" class="edd_repeatable_upload_field" name="edd_download_files[%d][file]" value="%s">
    </div>
    <span class="release-deploy-edd-file-status" data-file-url="%s"></span>
  </div>
  <button type="button" class="release-deploy-pick" data-key="%d">Choose from GitHub</button>
</div>
`, i, i, val, val, i)
	}
	b.WriteString(`</div></form>
<script>
document.querySelectorAll('.release-deploy-pick').forEach(function (btn) {
  btn.addEventListener('click', function () {
    var input = document.querySelector('[data-key="' + btn.dataset.key + '"] .edd_repeatable_upload_field');
    var v = window.prompt('File URL', input.value);
    if (v !== null) { input.value = v; }
  });
});
</script>
</body></html>`)

	w.Header().Set("Content-Type", "text/html; charset=UTF-8")
	w.Write([]byte(b.String()))
}
