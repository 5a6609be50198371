// Package bridge is the InApp channel: the provider script injected into dApp
// pages and the websocket hub that carries its frames to the gateway.
package bridge

import (
	_ "embed"
	"fmt"
	"strings"
)

//go:embed provider.js
var providerScript string

// Script returns the provider script for injection into a page. When
// bridgeURL is set the page is wired to a websocket at that URL instead of a
// native webview channel.
func Script(bridgeURL string) string {
	if bridgeURL == "" {
		return providerScript
	}
	var b strings.Builder
	fmt.Fprintf(&b, `(function () {
  if (window.__dappGateway) {
    return;
  }
  var socket = new WebSocket(%q + "?url=" + encodeURIComponent(window.location.href));
  var queue = [];
  socket.onopen = function () {
    while (queue.length) {
      socket.send(queue.shift());
    }
  };
  socket.onmessage = function (event) {
    window.postMessage(event.data, "*");
  };
  window.__dappGateway = {
    send: function (frame) {
      if (socket.readyState === 1) {
        socket.send(frame);
      } else {
        queue.push(frame);
      }
    }
  };
})();
`, bridgeURL)
	b.WriteString(providerScript)
	return b.String()
}
