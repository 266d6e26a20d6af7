package handler

import (
	"marketchat/internal/usecase"
)

var (
	chatHandler     *ChatHandler
	healthHandler   *HealthHandler
	devTokenHandler *DevTokenHandler
)

// Setup builds the shared handlers. devTokens may be nil when token minting is off.
func Setup(chatUseCase *usecase.ChatUseCase, gateway ConnectionCounter, devTokens TokenIssuer) {
	chatHandler = NewChatHandler(chatUseCase)
	healthHandler = NewHealthHandler(gateway)
	if devTokens != nil {
		devTokenHandler = NewDevTokenHandler(devTokens)
	}
}

func GetChatHandler() *ChatHandler {
	return chatHandler
}

func GetHealthHandler() *HealthHandler {
	return healthHandler
}

func GetDevTokenHandler() *DevTokenHandler {
	return devTokenHandler
}
