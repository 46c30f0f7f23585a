package screenshot

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"page-verifier/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const startMenuHTML = `<!doctype html>
<html><body>
<main id="menu">
  <h1>Fractal Garden</h1>
  <button id="start">Start   Game</button>
</main>
</body></html>`

// nextAppHTML looks like a server-rendered React app: the label sits in the
// flight payload script and in a hidden duplicate before the visible button,
// and the button text is split over child elements
const nextAppHTML = `<!doctype html>
<html><head><title>Start Game</title></head><body>
<div id="__next">
  <template id="menu-tpl"><button>Start Game</button></template>
  <p style="display:none">Start Game</p>
  <main><button id="start"><span>Start</span> <b>Game</b></button></main>
</div>
<script>self.__next_f=self.__next_f||[];self.__next_f.push([1,"Start Game"])</script>
</body></html>`

// clientRenderedHTML only holds the label in a script until it renders
const clientRenderedHTML = `<!doctype html>
<html><body><div id="root"></div>
<script>
const label = "Start Game";
setTimeout(() => {
  const b = document.createElement("button");
  b.textContent = label;
  document.getElementById("root").appendChild(b);
}, 300);
</script>
</body></html>`

// hiddenOnlyHTML has matching text but nothing of it is rendered
const hiddenOnlyHTML = `<!doctype html>
<html><body>
<p style="display:none">Start Game</p>
<p style="visibility:hidden">Start Game</p>
<script>window.label = "Start Game"</script>
</body></html>`

const loadingHTML = `<!doctype html><html><body><p>Loading...</p></body></html>`

// requireChrome skips browser-backed tests on machines without Chrome
func requireChrome(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	if _, err := FindChromeExecutable(); err != nil {
		t.Skipf("skipping browser test: %v", err)
	}
}

func serveHTML(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func verifyAgainst(t *testing.T, cfg *config.Config) Result {
	t.Helper()
	require.NoError(t, cfg.Validate())
	target, err := TargetFromConfig(cfg)
	require.NoError(t, err)
	v := NewVerifier(cfg, NewChromeLauncher(cfg, nil), nil)
	return v.Verify(context.Background(), target)
}

func TestChrome_StartMenuReady(t *testing.T) {
	requireChrome(t)
	srv := serveHTML(t, startMenuHTML)
	out := filepath.Join(t.TempDir(), "verification", "start_menu.png")

	result := verifyAgainst(t, &config.Config{URL: srv.URL, Output: out})

	require.True(t, result.Success, "verification failed: %v", result.Err)
	assert.Equal(t, "Screenshot saved to "+out, result.Message())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")), "expected a PNG image")
}

func TestChrome_JPEGFullPage(t *testing.T) {
	requireChrome(t)
	srv := serveHTML(t, startMenuHTML)
	out := filepath.Join(t.TempDir(), "menu.jpg")

	result := verifyAgainst(t, &config.Config{
		URL:      srv.URL,
		WaitFor:  "#start",
		Output:   out,
		FullPage: true,
		Cookies:  []config.Cookie{{Name: "seen", Value: "1"}},
	})

	require.True(t, result.Success, "verification failed: %v", result.Err)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte{0xFF, 0xD8}), "expected a JPEG image")
}

func TestChrome_ServerDown(t *testing.T) {
	requireChrome(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	out := filepath.Join(t.TempDir(), "start_menu.png")

	result := verifyAgainst(t, &config.Config{URL: url, Output: out, Timeout: 10000})

	require.False(t, result.Success)
	assert.Contains(t, result.Message(), "Error: ")
	assert.Contains(t, result.Message(), "ERR_CONNECTION_REFUSED")
	_, err := os.Stat(out)
	assert.True(t, os.IsNotExist(err))
}

func TestChrome_ConditionNeverMet(t *testing.T) {
	requireChrome(t)
	srv := serveHTML(t, loadingHTML)
	out := filepath.Join(t.TempDir(), "start_menu.png")

	result := verifyAgainst(t, &config.Config{URL: srv.URL, Output: out, Timeout: 1500, NavigationTimeout: 10000})

	require.False(t, result.Success)
	assert.Equal(t, "Error: Timeout 1.5s exceeded waiting for text=Start Game", result.Message())
	_, err := os.Stat(out)
	assert.True(t, os.IsNotExist(err))
}

func TestChrome_NextStyleApp(t *testing.T) {
	requireChrome(t)

	for name, page := range map[string]string{
		"server rendered": nextAppHTML,
		"client rendered": clientRenderedHTML,
	} {
		t.Run(name, func(t *testing.T) {
			srv := serveHTML(t, page)
			out := filepath.Join(t.TempDir(), "verification", "start_menu.png")

			result := verifyAgainst(t, &config.Config{URL: srv.URL, Output: out, Timeout: 10000})

			require.True(t, result.Success, "verification failed: %v", result.Err)
			_, err := os.Stat(out)
			assert.NoError(t, err)
		})
	}
}

func TestChrome_HiddenMatchesNeverReady(t *testing.T) {
	requireChrome(t)
	srv := serveHTML(t, hiddenOnlyHTML)
	out := filepath.Join(t.TempDir(), "start_menu.png")

	result := verifyAgainst(t, &config.Config{URL: srv.URL, Output: out, Timeout: 1500, NavigationTimeout: 10000})

	require.False(t, result.Success)
	assert.Equal(t, "Error: Timeout 1.5s exceeded waiting for text=Start Game", result.Message())
}

func TestChromeLauncher_MissingExecutable(t *testing.T) {
	cfg := config.Default()
	cfg.ChromePath = filepath.Join(t.TempDir(), "no-such-chrome")

	_, _, err := NewChromeLauncher(cfg, nil).Launch(context.Background())
	assert.ErrorContains(t, err, "no-such-chrome")
}
