package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// FetchFields 提供 origin/key/命中层级字段，空值字段不写入。
func FetchFields(origin, key, tier string) logrus.Fields {
	fields := logrus.Fields{"origin": origin}
	if key != "" {
		fields["key"] = key
	}
	if tier != "" {
		fields["tier"] = tier
	}
	return fields
}

// RequestFields 在 FetchFields 基础上补充 HTTP 入口的 domain/请求 ID。
func RequestFields(origin, domain, key, requestID string) logrus.Fields {
	fields := FetchFields(origin, key, "")
	fields["domain"] = domain
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}
