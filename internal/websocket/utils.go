// internal/websocket/utils.go
package websocket

import (
	"encoding/json"

	wstypes "settlement-service/internal/domain/websocket"
)

// DecodeData converts the loosely typed message payload into target
func DecodeData(msg *wstypes.WSMessage, target interface{}) error {
	if msg.Data == nil {
		return nil
	}
	jsonData, err := json.Marshal(msg.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonData, target)
}
