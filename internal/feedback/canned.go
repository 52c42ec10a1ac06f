package feedback

import "strings"

const tooShortReport = `## 📊 Synthèse Globale
Session trop courte pour générer un rapport d'analyse.

## 💡 Conseil
Poursuivez la conversation plus longtemps pour obtenir un rapport détaillé de votre performance.`

const voiceOnlyReport = `## 📊 Synthèse Globale
Session vocale terminée avec {{title}}.

## 🎤 Mode Vocal
Vous avez utilisé le mode vocal pour cette simulation. L'analyse détaillée n'est pas disponible car les transcriptions ne sont actuellement pas enregistrées pour des raisons de stabilité de connexion.

## 💡 Conseils Généraux pour la Double Relation
- **Écoute active** : Reformulez les besoins du client pour montrer votre compréhension
- **Détection des besoins** : Identifiez les besoins personnels derrière les demandes professionnelles
- **Argumentation** : Utilisez des arguments concrets liés à la situation du client
- **Flexibilité** : Mettez en avant la disponibilité et la souplesse des solutions

## 🏆 Note : -/5
_(Analyse complète disponible en mode texte)_

💡 **Astuce** : Utilisez le mode texte pour obtenir un rapport détaillé avec notation basée sur votre conversation réelle.`

// TooShortReport is shown when a text conversation ended before a real
// exchange took place.
func TooShortReport() string { return tooShortReport }

// VoiceOnlyReport is shown after a voice session that left no usable
// transcript. title names the scenario.
func VoiceOnlyReport(title string) string {
	return strings.Replace(voiceOnlyReport, "{{title}}", title, 1)
}
