package signup

import "github.com/nbutton23/zxcvbn-go"

// DefaultPasswordMinScore 注册时接受的最低 zxcvbn 分数（0-4）
const DefaultPasswordMinScore = 3

type PasswordScorer interface {
	Score(password string, userInputs ...string) int
}

// ZxcvbnScorer 使用 zxcvbn 估算密码强度
type ZxcvbnScorer struct{}

func (ZxcvbnScorer) Score(password string, userInputs ...string) int {
	return zxcvbn.PasswordStrength(password, userInputs).Score
}
