package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/elmedianur/deutsche/internal/middleware"
	"github.com/elmedianur/deutsche/internal/services"
)

type Routes struct {
	Auth       *AuthHandler
	Sessions   *SessionHandler
	Wallet     *WalletHandler
	Stats      *StatsHandler
	Questions  *QuestionHandler
	Moderation *ModerationHandler
	Telegram   *TelegramUserHandler
	WS         *WSHandler

	AuthService *services.AuthService
	Caps        *services.Capabilities
	BotAPIKey   string
}

// Register mounts the websocket endpoints and the /api/v1 tree on r.
func (rt Routes) Register(r *gin.Engine) {
	r.GET("/ws", rt.WS.HandleWebSocket)
	r.GET("/ws/session/:id", rt.WS.HandleWebSocket)

	bot := middleware.BotAuth(rt.BotAPIKey)
	player := middleware.FlexAuth(rt.AuthService, rt.BotAPIKey)
	admin := middleware.JWTAuth(rt.AuthService)
	can := func(capability services.Capability) gin.HandlerFunc {
		return requireCapability(rt.Caps, capability)
	}

	api := r.Group("/api/v1")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/login", rt.Auth.Login)
			auth.POST("/register", bot, rt.Auth.Register)
			auth.POST("/token", bot, rt.Auth.IssueToken)
		}

		arena := api.Group("/arena")
		arena.Use(player)
		{
			arena.POST("/join", rt.Sessions.Join)
			arena.POST("/leave", rt.Sessions.Leave)
			arena.GET("/lobby", rt.Sessions.Lobby)
			arena.GET("/sessions", rt.Sessions.MySessions)
		}

		sessions := api.Group("/sessions")
		sessions.Use(player)
		{
			sessions.GET("/:id", rt.Sessions.GetSession)
			sessions.POST("/:id/answer", rt.Sessions.SubmitAnswer)
			sessions.POST("/:id/forfeit", rt.Sessions.Forfeit)
		}

		wallet := api.Group("/wallet")
		{
			wallet.GET("", player, rt.Wallet.GetWallet)
			wallet.GET("/transactions", player, rt.Wallet.Transactions)
			wallet.GET("/inventory", player, rt.Wallet.Inventory)
			wallet.POST("/topup", bot, rt.Wallet.TopUp)
		}

		shop := api.Group("/shop")
		{
			shop.GET("", rt.Wallet.Catalog)
			shop.POST("/purchase", player, rt.Wallet.Purchase)
			shop.POST("/premium", player, rt.Wallet.PurchasePremium)
		}

		stats := api.Group("/stats")
		{
			stats.GET("/top", rt.Stats.TopPlayers)
			stats.GET("/duel", player, rt.Stats.DuelStats)
			stats.GET("/duel/:user_id", rt.Stats.DuelStats)
			stats.GET("/history", player, rt.Stats.History)
		}

		tgUsers := api.Group("/telegram-users")
		tgUsers.Use(bot)
		{
			tgUsers.POST("", rt.Telegram.GetOrCreateUser)
			tgUsers.PUT("/:telegram_id/nickname", rt.Telegram.UpdateNickname)
			tgUsers.GET("/:telegram_id/history", rt.Telegram.GetHistory)
		}

		adm := api.Group("/admin")
		adm.Use(admin)
		{
			adm.GET("/sessions", can(services.CapViewAllHistory), rt.Sessions.ListSessions)
			adm.POST("/sessions/:id/cancel", rt.Sessions.Cancel)
			adm.GET("/lobbies", can(services.CapViewAllHistory), rt.Sessions.ListLobbies)
			adm.GET("/results/:id", can(services.CapViewAllHistory), rt.Stats.SessionResult)
			adm.GET("/history/:user_id", can(services.CapViewAllHistory), rt.Stats.History)

			adm.POST("/grant", rt.Wallet.Grant)

			adm.GET("/users/:user_id/block", can(services.CapBlockUser), rt.Moderation.Status)
			adm.POST("/users/:user_id/block", rt.Moderation.Block)
			adm.DELETE("/users/:user_id/block", rt.Moderation.Unblock)

			questions := adm.Group("/questions")
			questions.Use(can(services.CapManageContent))
			{
				questions.GET("", rt.Questions.ListQuestions)
				questions.POST("", rt.Questions.CreateQuestion)
				questions.DELETE("/:id", rt.Questions.DeleteQuestion)
				questions.GET("/export", rt.Questions.ExportQuestions)
				questions.POST("/import", rt.Questions.ImportQuestions)
			}
		}
	}
}
