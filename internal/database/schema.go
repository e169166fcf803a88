package database

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
    chat_id BIGINT PRIMARY KEY,
    usage_count INT NOT NULL DEFAULT 0,
    last_reset_date DATE NOT NULL,
    plan_type VARCHAR(20),
    plan_expiry TIMESTAMP NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
)`,
	`CREATE TABLE IF NOT EXISTS redemption_keys (
    token VARCHAR(64) PRIMARY KEY,
    plan_type VARCHAR(20) NOT NULL,
    used TINYINT(1) NOT NULL DEFAULT 0,
    used_by BIGINT,
    used_at TIMESTAMP NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`,
}
