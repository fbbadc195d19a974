package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "assetdesk"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanAgentCommands — сигнал «есть новая команда», payload "agentKey:commandID".
	RedisChanAgentCommands = RedisNamespace + ":agents:commands"
)

// RegisterLockKey — блокировка на время регистрации устройства у провайдера.
func RegisterLockKey(deviceID string) string {
	return fmt.Sprintf("%s:lock:register:%s", RedisNamespace, deviceID)
}

// SweepLockKey — только один инстанс консоли чистит просроченные команды за тик.
const SweepLockKey = RedisNamespace + ":lock:commands:sweep"
