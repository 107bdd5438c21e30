package api

import (
	"net/http"

	qrcode "github.com/skip2/go-qrcode"
)

// handleShareQR renders a QR code for the current dashboard view so a
// phone can pick up the exact map position straight from a screen. The
// target URL comes from the u parameter, falling back to the referring
// page, falling back to the request itself.
func (h *Handler) handleShareQR(w http.ResponseWriter, r *http.Request) {
	u := r.URL.Query().Get("u")
	if u == "" {
		if ref := r.Referer(); ref != "" {
			u = ref
		} else {
			scheme := "http"
			if r.TLS != nil {
				scheme = "https"
			}
			u = scheme + "://" + r.Host + "/"
		}
	}
	if len(u) > 4096 {
		u = u[:4096]
	}

	png, err := qrcode.Encode(u, qrcode.Medium, 512)
	if err != nil {
		http.Error(w, "QR encode: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Disposition", `inline; filename="qr.png"`)
	_, _ = w.Write(png)
}
