package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetPublicPassport 公开护照（只含已核验记录）
// GET /verify/:passportId
func (h *Handler) GetPublicPassport(c *gin.Context) {
	p, err := h.passports.Lookup(c.Request.Context(), c.Param("passportId"))
	if err != nil {
		h.respondError(c, err, "load passport")
		return
	}
	c.Header("Cache-Control", "public, max-age=300")
	c.JSON(http.StatusOK, gin.H{"data": p})
}

// GetPassportQR 护照分享二维码
// GET /verify/:passportId/qr.png
func (h *Handler) GetPassportQR(c *gin.Context) {
	png, err := h.passports.QRCode(c.Request.Context(), c.Param("passportId"))
	if err != nil {
		h.respondError(c, err, "render qr code")
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "image/png", png)
}
