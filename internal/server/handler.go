package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Tassadaritze/tassad-site-remix/internal/auth"
	"github.com/Tassadaritze/tassad-site-remix/internal/chat"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	chatPath = "/chat"
	userPath = "/chat/user"
)

// Handler 聚合聊天相关的 HTTP handler，依赖注入 chat.Service 与会话。
type Handler struct {
	svc      *chat.Service
	sessions *auth.Sessions
}

func NewHandler(svc *chat.Service, sessions *auth.Sessions) *Handler {
	return &Handler{svc: svc, sessions: sessions}
}

// Healthcheck 要求请求带有 Host，供平台健康检查使用。
func (h *Handler) Healthcheck(c *gin.Context) {
	host := c.GetHeader("X-Forwarded-Host")
	if host == "" {
		host = c.Request.Host
	}
	if host == "" {
		log.Error().Msg("healthcheck without host")
		c.String(http.StatusInternalServerError, "ERROR")
		return
	}
	c.String(http.StatusOK, "OK")
}

// ChatPage 返回页面首次加载所需的历史消息和在线名单。
func (h *Handler) ChatPage(c *gin.Context) {
	username := auth.GetUsername(c)
	if username == "" {
		c.Redirect(http.StatusSeeOther, userPath)
		return
	}
	snap, err := h.svc.Hydrate(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Str("username", username).Msg("hydrate chat")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"username":         username,
		"messages":         snap.Messages,
		"users":            snap.Users,
		"maxMessageLength": h.svc.Options().MaxMessageLength,
	})
}

// PostMessage 处理表单提交的聊天消息。校验失败返回 422，不广播。
func (h *Handler) PostMessage(c *gin.Context) {
	username := auth.GetUsername(c)
	if username == "" {
		log.Info().Msg("post without username")
		c.Redirect(http.StatusSeeOther, userPath)
		return
	}
	_, err := h.svc.Post(c.Request.Context(), username, c.PostForm("message"))
	if err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) || errors.Is(err, chat.ErrMessageTooLong) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		log.Error().Err(err).Str("username", username).Msg("post message")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to post message"})
		return
	}
	c.Status(http.StatusNoContent)
}

// UserForm 返回选择用户名页面的状态；已选过用户名则直接回到聊天页。
func (h *Handler) UserForm(c *gin.Context) {
	if auth.GetUsername(c) != "" {
		c.Redirect(http.StatusSeeOther, chatPath)
		return
	}
	flash, err := h.sessions.PopFlash(c)
	if err != nil {
		log.Error().Err(err).Msg("pop flash")
	}
	var errMsg interface{}
	if flash != "" {
		errMsg = flash
	}
	c.JSON(http.StatusOK, gin.H{"error": errMsg, "maxLength": h.svc.Options().UsernameMaxLength})
}

// ChooseUser 保存用户名到会话。
func (h *Handler) ChooseUser(c *gin.Context) {
	name, err := h.svc.ValidateUsername(c.PostForm("username"))
	if err != nil {
		if ferr := h.sessions.SetFlash(c, h.usernameError(err)); ferr != nil {
			log.Error().Err(ferr).Msg("set flash")
		}
		c.Redirect(http.StatusSeeOther, userPath)
		return
	}
	if err := h.sessions.SetUsername(c, name); err != nil {
		log.Error().Err(err).Str("username", name).Msg("set username")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save username"})
		return
	}
	c.Redirect(http.StatusSeeOther, chatPath)
}

func (h *Handler) usernameError(err error) string {
	switch {
	case errors.Is(err, chat.ErrUsernameTooLong):
		return fmt.Sprintf("Username cannot be longer than %d characters", h.svc.Options().UsernameMaxLength)
	case errors.Is(err, chat.ErrEmptyUsername):
		return "Username cannot be empty"
	}
	return "Invalid username"
}
