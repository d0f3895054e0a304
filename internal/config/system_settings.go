package config

import (
	"os"
	"strconv"
)

const DATABASE_TYPE = "CFLOW_DATABASE_TYPE"
const DATABASE_URL = "CFLOW_DATABASE_URL"
const DATABASE_SQLLITE_FILE_NAME = "CFLOW_DATABASE_SQLLITE_FILE_NAME"
const SERVER_WEB_PORT = "CFLOW_SERVER_WEB_PORT"
const WORKFLOWS_DIR = "CFLOW_WORKFLOWS_DIR" //directory of declarative workflow yaml documents
const API_KEY = "CFLOW_API_KEY"             //if set, the HTTP api requires X-API-Key to match
const VALIDATOR_URL = "CFLOW_VALIDATOR_URL" //base url of the semantic validator, empty disables it
const VALIDATOR_API_KEY = "CFLOW_VALIDATOR_API_KEY"
const VALIDATOR_MODEL = "CFLOW_VALIDATOR_MODEL"
const VALIDATOR_TIMEOUT_SECONDS = "CFLOW_VALIDATOR_TIMEOUT_SECONDS"
const EXPIRY_SWEEP_INTERVAL = "CFLOW_EXPIRY_SWEEP_INTERVAL"
const TRANSACTION_EXPIRY_MINUTES = "CFLOW_TRANSACTION_EXPIRY_MINUTES"

const DATABASE_TYPE_POSTGRES = "POSTGRES"
const DATABASE_TYPE_MYSQL = "MYSQL"
const DATABASE_TYPE_SQLLITE = "SQLLITE"

func GetSystemSettingInteger(settingKey string) int {
	val := GetSystemSettingString(settingKey)
	if val != "" {
		intValue, _ := strconv.Atoi(val)
		return intValue
	}

	return 0
}

func GetSystemSettingString(settingKey string) string {
	val := os.Getenv(settingKey)
	if val != "" {
		return val
	}
	if settingKey == SERVER_WEB_PORT {
		return "8080"
	}
	if settingKey == WORKFLOWS_DIR {
		return "./workflows"
	}
	if settingKey == VALIDATOR_MODEL {
		return "gpt-4o-mini"
	}
	if settingKey == VALIDATOR_TIMEOUT_SECONDS {
		return "5" // the confirmation round trip must stay short, a timeout counts as a no
	}
	if settingKey == EXPIRY_SWEEP_INTERVAL {
		return "60s"
	}
	if settingKey == TRANSACTION_EXPIRY_MINUTES {
		return "30"
	}
	if settingKey == DATABASE_SQLLITE_FILE_NAME {
		return "./convoflow.db"
	}
	return ""
}
